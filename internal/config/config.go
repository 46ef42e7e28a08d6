// Package config loads memtrace's YAML configuration file.
//
// Grounded on overlay/node/xatu/service.go's loadConfig: defaults.Set
// (github.com/creasty/defaults) populates zero-value fields first, then
// yaml.Unmarshal (gopkg.in/yaml.v3) overlays whatever the file specifies,
// and a final Validate call rejects nonsensical combinations before the
// config is handed to the rest of the program.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// RunnerConfig controls how the target process is spawned and how the
// agent's FIFO is set up (§2, §5).
type RunnerConfig struct {
	// FIFODir is the directory the named pipe is created in.
	// Defaults to os.TempDir() at load time if left empty.
	FIFODir string `yaml:"fifo_dir" default:""`
	// PreloadLibrary is the path to the built agent shared object
	// (cmd/libmemtrace's output), injected via LD_PRELOAD/DYLD_INSERT_LIBRARIES.
	PreloadLibrary string `yaml:"preload_library" default:""`
	// PollInterval is how often the runner polls the target for exit
	// between FIFO reads (§5 "try_wait-style polling").
	PollInterval time.Duration `yaml:"poll_interval" default:"50ms"`
}

// InterpreterConfig controls ledger resolution (§4.7, §6, §8).
type InterpreterConfig struct {
	// OutputPath is where the enriched ledger is written. Empty means
	// derive it from the input's base name (the target program for
	// "record", the raw ledger file for "resolve") by swapping its
	// extension for .enriched.
	OutputPath string `yaml:"output_path" default:""`
	// ResolverCacheSize bounds the per-instruction-pointer Location LRU.
	ResolverCacheSize int `yaml:"resolver_cache_size" default:"65536"`
}

// TelemetryConfig controls logging and the optional self-profiling
// HTTP listener (§10.1, §11).
type TelemetryConfig struct {
	LogLevel string `yaml:"log_level" default:"info"`
	LogJSON  bool   `yaml:"log_json" default:"false"`
	// PprofAddr, if non-empty, serves pprof, fgprof, and Prometheus
	// metrics on this address (the CLI's --pprof flag sets this).
	PprofAddr string `yaml:"pprof_addr" default:""`
}

// Config is the top-level document loaded from a memtrace YAML config file.
type Config struct {
	Runner      RunnerConfig      `yaml:"runner"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Validate rejects configuration combinations that would otherwise fail
// confusingly much later in the run.
func (c *Config) Validate() error {
	if c.Interpreter.ResolverCacheSize <= 0 {
		return fmt.Errorf("config: interpreter.resolver_cache_size must be positive, got %d", c.Interpreter.ResolverCacheSize)
	}
	if c.Runner.PollInterval <= 0 {
		return fmt.Errorf("config: runner.poll_interval must be positive, got %s", c.Runner.PollInterval)
	}
	switch c.Telemetry.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: telemetry.log_level must be one of debug|info|warn|error, got %q", c.Telemetry.LogLevel)
	}
	return nil
}

// Default returns a Config with every field at its declared default,
// useful when the CLI is invoked without a config file at all.
func Default() *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	if cfg.Runner.FIFODir == "" {
		cfg.Runner.FIFODir = os.TempDir()
	}
	return cfg
}

// Load reads and validates the YAML file at path, matching
// overlay/node/xatu/service.go's loadConfig: Set defaults, then unmarshal
// the file over them via the plain-type trick (avoids UnmarshalYAML
// recursion if Config ever grows one), then validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: set defaults: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	type plain Config
	if err := yaml.Unmarshal(raw, (*plain)(cfg)); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.Runner.FIFODir == "" {
		cfg.Runner.FIFODir = os.TempDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
