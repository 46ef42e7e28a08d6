// Command memtrace is the out-of-process controller: it spawns a target
// executable preloaded with cmd/libmemtrace's agent, drains the raw
// ledger it emits over a FIFO, resolves every instruction pointer, and
// writes the enriched ledger a report or flame-graph renderer consumes
// afterwards (§2, §10.4).
//
// Grounded on original_source/interpret/src/executor.rs and
// original_source/memgraph/src/main.rs for the record/resolve split; the
// ambient CLI shape (urfave/cli, config.Load, telemetry.Init) follows the
// teacher's own cmd wiring style (see DESIGN.md).
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/memtrace/internal/accum"
	"github.com/erigontech/memtrace/internal/config"
	"github.com/erigontech/memtrace/internal/interpreter"
	"github.com/erigontech/memtrace/internal/metrics"
	"github.com/erigontech/memtrace/internal/runner"
	"github.com/erigontech/memtrace/internal/telemetry"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "memtrace",
		Usage:   "heap allocation profiler for native executables",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a memtrace YAML config file"},
			&cli.StringFlag{Name: "pprof", Usage: "address to serve pprof/fgprof/Prometheus metrics on (disabled if empty)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug|info|warn|error"},
			&cli.BoolFlag{Name: "log-json", Usage: "emit structured JSON log lines instead of colorized console output"},
		},
		Commands: []*cli.Command{
			recordCommand(),
			resolveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		telemetry.New("memtrace").Fatal("command failed", "err", err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if level := c.String("log-level"); level != "" {
		cfg.Telemetry.LogLevel = level
	}
	if c.Bool("log-json") {
		cfg.Telemetry.LogJSON = true
	}
	if addr := c.String("pprof"); addr != "" {
		cfg.Telemetry.PprofAddr = addr
	}

	return cfg, cfg.Validate()
}

// servePprof starts the optional self-profiling/metrics listener (§11)
// and returns the registry it's wired to, or nil if disabled.
func servePprof(cfg *config.Config, log *telemetry.Logger) *metrics.Registry {
	if cfg.Telemetry.PprofAddr == "" {
		return nil
	}

	reg := metrics.New()
	mux := http.NewServeMux()
	reg.Handler(mux)

	go func() {
		log.Info("pprof/metrics listener starting", "addr", cfg.Telemetry.PprofAddr)
		if err := http.ListenAndServe(cfg.Telemetry.PprofAddr, mux); err != nil {
			log.Error("pprof listener stopped", "err", err)
		}
	}()

	return reg
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "run a target executable under capture and write an enriched ledger",
		ArgsUsage: "-- <program> [args...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "enriched ledger output path (default: derived)"},
			&cli.StringFlag{Name: "raw-output", Usage: "also save the raw ledger to this path, for later `memtrace resolve`"},
			&cli.StringFlag{Name: "agent", Usage: "path to the built libmemtrace shared object (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := telemetry.Init(cfg.Telemetry.LogLevel, cfg.Telemetry.LogJSON); err != nil {
				return err
			}
			log := telemetry.New("memtrace")

			if c.NArg() == 0 {
				return fmt.Errorf("record: missing target program (usage: memtrace record -- <program> [args...])")
			}
			program := c.Args().Get(0)
			args := c.Args().Slice()[1:]

			if agent := c.String("agent"); agent != "" {
				cfg.Runner.PreloadLibrary = agent
			}
			if cfg.Runner.PreloadLibrary == "" {
				return fmt.Errorf("record: no agent library configured (set runner.preload_library or pass --agent)")
			}

			outputPath := c.String("output")
			if outputPath == "" {
				outputPath = cfg.Interpreter.OutputPath
			}
			if outputPath == "" {
				outputPath = defaultOutputPath(program)
			}

			out, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("record: create %s: %w", outputPath, err)
			}
			defer out.Close()

			// rawTee stays a nil io.Writer (not a nil *os.File boxed in a
			// non-nil interface) when --raw-output isn't set, since
			// interpreter.New checks it with a plain != nil comparison.
			var rawTee io.Writer
			if rawPath := c.String("raw-output"); rawPath != "" {
				rawOut, err := os.Create(rawPath)
				if err != nil {
					return fmt.Errorf("record: create %s: %w", rawPath, err)
				}
				defer rawOut.Close()
				rawTee = rawOut
			}

			reg := servePprof(cfg, log)
			if reg == nil {
				reg = metrics.New()
			}

			run, err := runner.Start(runner.Config{
				FIFODir:        cfg.Runner.FIFODir,
				PreloadLibrary: cfg.Runner.PreloadLibrary,
				PollInterval:   cfg.Runner.PollInterval,
			}, program, args, ".")
			if err != nil {
				return fmt.Errorf("record: %w", err)
			}
			defer run.Close()

			interp := interpreter.New(run, cfg.Interpreter.ResolverCacheSize, out, rawTee, run.Session(), log, reg)
			defer interp.Close()

			log.Info("capture started", "program", program, "session", run.Session(), "output", outputPath)
			if err := interp.Run(); err != nil {
				return fmt.Errorf("record: %w", err)
			}

			return summarize(outputPath, log)
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "re-resolve an already-captured raw ledger file without re-running the target",
		ArgsUsage: "<raw-ledger-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "enriched ledger output path (default: derived)"},
			&cli.StringSliceFlag{Name: "debug-info", Usage: "remap a recorded image path to a different file, e.g. --debug-info /app/worker=/app/worker.debug (repeatable)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := telemetry.Init(cfg.Telemetry.LogLevel, cfg.Telemetry.LogJSON); err != nil {
				return err
			}
			log := telemetry.New("memtrace")

			overrides, err := parseImageOverrides(c.StringSlice("debug-info"))
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			if c.NArg() != 1 {
				return fmt.Errorf("resolve: expected exactly one raw ledger file argument")
			}
			rawPath := c.Args().Get(0)

			in, err := os.Open(rawPath)
			if err != nil {
				return fmt.Errorf("resolve: open %s: %w", rawPath, err)
			}
			defer in.Close()

			outputPath := c.String("output")
			if outputPath == "" {
				outputPath = cfg.Interpreter.OutputPath
			}
			if outputPath == "" {
				outputPath = defaultOutputPath(rawPath)
			}
			out, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("resolve: create %s: %w", outputPath, err)
			}
			defer out.Close()

			reg := servePprof(cfg, log)
			if reg == nil {
				reg = metrics.New()
			}

			src := interpreter.NewFileSource(in)
			interp := interpreter.New(src, cfg.Interpreter.ResolverCacheSize, out, nil, uuid.Nil, log, reg).
				WithImageOverride(overrides)
			defer interp.Close()

			log.Info("resolving raw ledger", "input", rawPath, "output", outputPath)
			if err := interp.Run(); err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			return summarize(outputPath, log)
		},
	}
}

// summarize re-reads the enriched ledger just written and prints a short
// human-readable total, using datasize.ByteSize instead of hand-rolled
// KB/MB math (§11).
func summarize(path string, log *telemetry.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("summarize: open %s: %w", path, err)
	}
	defer f.Close()

	data, err := accum.Load(f)
	if err != nil {
		return fmt.Errorf("summarize: %w", err)
	}

	log.Info("capture resolved",
		"allocations", data.Total.Allocations,
		"temporary", data.Total.Temporary,
		"leaked", datasize.ByteSize(data.Total.Leaked).String(),
		"peak", datasize.ByteSize(data.Peak).String(),
		"peak_rss", datasize.ByteSize(data.PeakRSS).String(),
		"duration", data.Duration,
	)
	return nil
}

// parseImageOverrides turns repeated "old=new" strings from --debug-info
// into the path remap interpreter.WithImageOverride expects.
func parseImageOverrides(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(specs))
	for _, spec := range specs {
		oldPath, newPath, ok := strings.Cut(spec, "=")
		if !ok || oldPath == "" || newPath == "" {
			return nil, fmt.Errorf("invalid --debug-info %q, expected old-path=new-path", spec)
		}
		overrides[oldPath] = newPath
	}
	return overrides, nil
}

// defaultOutputPath derives an enriched ledger path from an input path's
// base name by swapping its extension for .enriched, falling back to
// appending the suffix when the input has none. The input's directory is
// dropped, so the result is relative to the current directory.
func defaultOutputPath(inputPath string) string {
	base := filepath.Base(inputPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".enriched"
}
