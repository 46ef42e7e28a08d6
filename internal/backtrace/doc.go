// Package backtrace walks the current thread's native call stack (§4.2).
//
// The capture is synchronous and allocation-free: a fixed-capacity,
// stack-allocated buffer is filled by the platform unwinder (glibc's
// backtrace(3) on Linux, matching original_source/libmemtrack/src/trace.rs;
// libunwind's _Unwind_Backtrace on the original's alternate tracer.rs path),
// and a fixed tail is trimmed so the recorded stack starts at the allocator
// hook's caller rather than inside the agent itself.
package backtrace

// MaxFrames bounds the backtrace buffer (§4.2: "Capacity >= 64 frames").
const MaxFrames = 64

// TrimDepth is the number of innermost frames removed from a release build
// of the agent: the cgo hook trampoline and the Go-side capture call itself
// (§9 open question 2, resolved in SPEC_FULL.md §13.2).
const TrimDepth = 2

// TrimDepthDebug is TrimDepth plus one extra frame for a non-inlined
// reentrancy check. No build tag or build flavor in this repository
// selects it: internal/agent always trims TrimDepth.
const TrimDepthDebug = 3
