//go:build linux

package backtrace

/*
#include <execinfo.h>
#include <stdlib.h>

static int memtrace_backtrace(void **buf, int size) {
	return backtrace(buf, size);
}
*/
import "C"
import "unsafe"

// Capture fills a fixed buffer with the calling thread's instruction
// pointers via glibc's backtrace(3) and returns them trimmed by depth
// frames (innermost-first, matching backtrace(3)'s own convention; callers
// that need outer-most-first order, per §4.3, reverse it themselves).
//
// This never allocates from the heap allocator the agent intercepts: the
// buffer is a fixed-size Go array passed by pointer into C, not grown.
func Capture(depth int) []uint64 {
	var raw [MaxFrames]unsafe.Pointer

	n := int(C.memtrace_backtrace((*unsafe.Pointer)(&raw[0]), C.int(MaxFrames)))
	if n < 0 {
		n = 0
	}
	if n > MaxFrames {
		n = MaxFrames
	}

	if depth >= n {
		return nil
	}

	out := make([]uint64, n-depth)
	for i := depth; i < n; i++ {
		out[i-depth] = uint64(uintptr(raw[i]))
	}
	return out
}
