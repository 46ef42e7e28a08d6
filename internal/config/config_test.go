package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 65536, cfg.Interpreter.ResolverCacheSize)
	require.Equal(t, 50*time.Millisecond, cfg.Runner.PollInterval)
	require.NotEmpty(t, cfg.Runner.FIFODir)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memtrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interpreter:
  resolver_cache_size: 1024
telemetry:
  log_level: debug
  log_json: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Interpreter.ResolverCacheSize)
	require.Equal(t, "debug", cfg.Telemetry.LogLevel)
	require.True(t, cfg.Telemetry.LogJSON)
	// untouched fields keep their defaults
	require.Equal(t, 50*time.Millisecond, cfg.Runner.PollInterval)
}

func TestLoadRejectsBadLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memtrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telemetry:\n  log_level: verbose\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
