//go:build darwin

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

// Capture is the Darwin counterpart of the Linux implementation: libSystem
// also exposes backtrace(3), so the same approach applies without needing
// the original's libunwind-based _Unwind_Backtrace path
// (original_source/libmemtrack/src/tracer.rs).
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
