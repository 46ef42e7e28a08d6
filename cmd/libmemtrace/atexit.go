//go:build linux || darwin

package main

import "C"

import (
	"time"

	"github.com/erigontech/memtrace/internal/agent"
)

// tr is the process-wide tracker every exported hook forwards into. It is
// nil until init has set it up, and hooks seen while it is nil call the
// real allocator and record nothing. If init cannot resolve the original
// allocator or open the pipe, it exits the process instead of leaving tr
// nil.
var tr *agent.Tracker

// onExit is registered with atexit(3) by registerAtExit (hooks_linux.go,
// hooks_darwin.go); it writes the run's final Duration and RSS records
// and flushes the ledger, mirroring original_source/src/lib.rs's my_exit.
//
//export onExit
func onExit() {
	if tr == nil {
		return
	}
	tr.WriteDuration(uint64(time.Since(startTime).Milliseconds()))
	if rss, err := currentRSS(); err == nil {
		tr.WriteRSS(rss)
	}
	tr.Close()
}
