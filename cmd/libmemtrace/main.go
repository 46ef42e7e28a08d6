// Command libmemtrace builds as a C shared library (-buildmode=c-shared)
// interposed ahead of the platform allocator via LD_PRELOAD (Linux) or
// DYLD_INSERT_LIBRARIES (Darwin). It has no executable entry point of its
// own; main only exists because Go requires one even in c-shared mode.
//
// Grounded on original_source/libmemtrack/src/lib.rs and original_source/
// src/lib.rs: both resolve the real malloc/calloc/realloc/free via
// dlsym(RTLD_NEXT, ...) once at load time, register an atexit handler, and
// forward every allocator call through a process-wide tracker after
// calling through to the real allocator. The Rust version additionally
// uses ctor::ctor plus fishhook's symbol rebinding for the cases where
// LD_PRELOAD/DYLD_INSERT_LIBRARIES symbol search order isn't enough on its
// own (notably Darwin's two-level namespace); see hooks_darwin.go for the
// Go-native substitute (no fishhook-equivalent library exists in the
// retrieved pack, so this port uses Apple's own documented
// DYLD_INTERPOSE pattern in C instead, which is what fishhook itself
// automates under the hood).
package main

import (
	"fmt"
	"os"
	"time"

	// Registers a cgo traceback symbolizer via its init() (runtime.
	// SetCgoTraceback) so a crash inside this library's own native code
	// prints readable frames instead of raw addresses.
	_ "github.com/ianlancetaylor/cgosymbolizer"

	"github.com/erigontech/memtrace/internal/agent"
	"github.com/erigontech/memtrace/internal/image"
)

// startTime marks agent load for the Duration record (§6 "c").
var startTime time.Time

// main is never invoked; the shared object's entry points are its
// exported C symbols, reached through Go's own runtime startup that the
// cgo c-shared buildmode triggers when the library is dlopen'd. This is
// the Go equivalent of original_source's #[ctor::ctor] fn init().
func main() {}

func init() {
	startTime = time.Now()

	// A target running un-profiled because the agent quietly gave up is
	// worse than a target that doesn't start at all: a caller invoking
	// `memtrace record` has no other signal that the capture never
	// happened. §7/§4.5 make both failures below fatal, matching the
	// original's PIPE_FILEPATH .expect() and allocator .unwrap().
	if err := resolveOriginals(); err != nil {
		fmt.Fprintf(os.Stderr, "memtrace: %v\n", err)
		os.Exit(1)
	}

	pipePath := os.Getenv("PIPE_FILEPATH")
	if pipePath == "" {
		fmt.Fprintln(os.Stderr, "memtrace: PIPE_FILEPATH must be set")
		os.Exit(1)
	}

	pipe, err := os.OpenFile(pipePath, os.O_WRONLY, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memtrace: open pipe %s: %v\n", pipePath, err)
		os.Exit(1)
	}

	tr = agent.New(pipe)
	tr.Init()

	if exe, err := os.Executable(); err == nil {
		tr.WriteExec(exe)
	}

	if pageSize, physPages, err := hostPageInfo(); err == nil {
		tr.WritePageInfo(pageSize, physPages)
	}

	if images, err := image.List(); err == nil {
		for _, img := range images {
			tr.WriteImage(img.Path, img.Base, img.Size)
		}
	}

	registerAtExit()
}
