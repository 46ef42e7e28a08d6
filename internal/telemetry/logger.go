// Package telemetry provides the structured logging facade shared by the
// interpreter, runner, and cmd/memtrace.
//
// Grounded on github.com/erigontech/erigon/common/log/v3's Logger interface
// (Info/Warn/Error/Debug taking a message plus alternating key/value
// context), as used throughout overlay/node/xatu. The backend here is
// go.uber.org/zap's SugaredLogger rather than erigon's own log/v3
// implementation, since log/v3 is part of the teacher's own module and not
// a redistributable third-party dependency; zap is already a direct
// dependency of the teacher for exactly this purpose. Console colorization
// follows erigon's use of github.com/mattn/go-colorable and
// github.com/mattn/go-isatty, and fatal-path stack capture uses
// github.com/go-stack/stack the way erigon's log/v3 does for error records.
package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger mirrors the Info/Warn/Error/Debug(msg string, ctx ...any) shape
// used throughout the teacher's call sites, so every caller in this repo
// reads exactly like overlay/node/xatu/service.go's s.log.Info(...) calls.
type Logger struct {
	z    *zap.SugaredLogger
	name string
}

var root *Logger

// Init installs the process-wide root logger. level is one of
// "debug"|"info"|"warn"|"error"; json selects machine-readable output for
// piping into a log aggregator instead of a human terminal.
func Init(level string, json bool) error {
	l, err := newLogger(level, json)
	if err != nil {
		return err
	}
	root = l
	return nil
}

// New returns a named child of the root logger, or a standalone
// info-level console logger if Init was never called (tests, early
// startup before config is parsed).
func New(name string) *Logger {
	if root == nil {
		l, _ := newLogger("info", false)
		root = l
	}
	if name == "" {
		return root
	}
	return &Logger{z: root.z.With("component", name), name: name}
}

func newLogger(level string, json bool) (*Logger, error) {
	lvl := zapcore.InfoLevel
	if err := (&lvl).UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("telemetry: invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	var out zapcore.WriteSyncer
	if json {
		enc = zapcore.NewJSONEncoder(encCfg)
		out = zapcore.AddSync(os.Stderr)
	} else {
		fd := os.Stderr.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
		out = zapcore.AddSync(consoleWriter())
	}

	core := zapcore.NewCore(enc, out, lvl)
	z := zap.New(core).Sugar()
	return &Logger{z: z}, nil
}

// consoleWriter wraps stderr with go-colorable so ANSI level colors render
// correctly on Windows consoles too, but only emits them at all when the
// stream is actually a terminal (go-isatty), matching erigon's behavior of
// falling back to plain text when output is redirected to a file or pipe.
func consoleWriter() io.Writer {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return os.Stderr
}

func (l *Logger) Debug(msg string, ctx ...interface{}) { l.z.Debugw(msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.z.Infow(msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.z.Warnw(msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.z.Errorw(msg, ctx...) }

// Fatal logs at error level with a Go-level stack trace attached (§9: agent
// and interpreter failures should be diagnosable without a debugger
// attached), then exits the process. Mirrors log/v3's use of go-stack/stack
// for this purpose.
func (l *Logger) Fatal(msg string, ctx ...interface{}) {
	trace := stack.Trace().TrimRuntime()
	l.z.Errorw(msg, append(ctx, "stack", trace.String())...)
	os.Exit(1)
}

// Sync flushes any buffered log entries; call before process exit.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}
