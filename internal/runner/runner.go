// Package runner spawns the target executable under capture and streams
// the raw ledger it writes back to the pipe the agent was told to open.
//
// Grounded on original_source/interpret/src/executor.rs's exec_cmd/
// ExecResult: create a named pipe named after this process's own pid,
// pass its path to the child via PIPE_FILEPATH, inject the agent shared
// object through the platform's preload environment variable, then lazily
// open the pipe for reading and poll the child's liveness between record
// reads so a crashed target is reported instead of hanging forever on a
// pipe nobody will ever write to again.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/erigontech/memtrace/internal/ledger"
)

// ErrCmdFailed wraps the target's non-zero exit, mirroring executor.rs's
// Error::CmdFailed(ExitStatus) variant.
var ErrCmdFailed = errors.New("runner: target process exited with an error")

// Config mirrors config.RunnerConfig's fields the runner actually consumes;
// kept as a separate, smaller type so this package doesn't import
// internal/config and create a dependency cycle risk as the two grow.
type Config struct {
	FIFODir        string
	PreloadLibrary string
	PollInterval   time.Duration
}

// Runner drives one captured run of a target executable.
type Runner struct {
	cmd      *exec.Cmd
	pipePath string
	lock     *flock.Flock
	session  uuid.UUID
	poll     time.Duration

	mu     sync.Mutex
	file   *os.File
	reader *ledger.RawReader

	waitDone chan struct{}
	waitErr  error
}

// Start creates the FIFO, spawns program with args in cwd, and returns a
// Runner ready to be iterated with Next. The child's own stdout/stderr are
// inherited so its normal output still reaches the terminal.
func Start(cfg Config, program string, args []string, cwd string) (*Runner, error) {
	lockPath := filepath.Join(cfg.FIFODir, ".memtrace.lock")
	lock := flock.New(lockPath)
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("runner: lock %s: %w", lockPath, err)
	}

	pipePath := filepath.Join(cfg.FIFODir, fmt.Sprintf("%d.pipe", os.Getpid()))
	if err := mkfifo(pipePath, 0o600); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("runner: mkfifo %s: %w", pipePath, err)
	}

	session := uuid.New()

	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"PIPE_FILEPATH="+pipePath,
		preloadEnvVar+"="+cfg.PreloadLibrary,
	)

	if err := cmd.Start(); err != nil {
		os.Remove(pipePath)
		lock.Unlock()
		return nil, fmt.Errorf("runner: start %s: %w", program, err)
	}

	r := &Runner{
		cmd:      cmd,
		pipePath: pipePath,
		lock:     lock,
		session:  session,
		poll:     cfg.PollInterval,
		waitDone: make(chan struct{}),
	}

	go func() {
		r.waitErr = cmd.Wait()
		close(r.waitDone)
	}()

	return r, nil
}

// Session returns this run's unique identifier. The interpreter writes it
// as a leading comment record of the raw ledger copy it tees out (when one
// is requested) so two captures are never confused for one another
// downstream; the enriched ledger does not carry it.
func (r *Runner) Session() uuid.UUID { return r.session }

// Next returns the next raw ledger record, opening the FIFO for reading on
// the first call (this blocks until the agent opens its write end, exactly
// as the original's lazy reader field does) and polling the child's exit
// status between reads. It returns io.EOF once the pipe is closed and
// drained, or an error wrapping ErrCmdFailed if the target exited non-zero
// before (or instead of) producing a clean end of stream.
func (r *Runner) Next() (*ledger.RawRecord, error) {
	if r.reader == nil {
		f, err := os.OpenFile(r.pipePath, os.O_RDONLY, 0)
		if err != nil {
			return nil, fmt.Errorf("runner: open pipe %s: %w", r.pipePath, err)
		}
		r.file = f
		r.reader = ledger.NewRawReader(f)
	}

	for {
		rec, err := r.reader.ReadRecord()
		if err != nil {
			return nil, fmt.Errorf("runner: read record: %w", err)
		}
		if rec != nil {
			return rec, nil
		}

		select {
		case <-r.waitDone:
			if r.waitErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrCmdFailed, r.waitErr)
			}
			if ps := r.cmd.ProcessState; ps != nil && !ps.Success() {
				return nil, fmt.Errorf("%w: exit code %d", ErrCmdFailed, ps.ExitCode())
			}
			return nil, io.EOF
		default:
			time.Sleep(r.poll)
		}
	}
}

// Close removes the FIFO and releases the directory lock. Safe to call
// more than once.
func (r *Runner) Close() error {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	rmErr := os.Remove(r.pipePath)
	lockErr := r.lock.Unlock()
	if rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("runner: remove pipe %s: %w", r.pipePath, rmErr)
	}
	return lockErr
}
