//go:build linux

package main

/*
#include <stdlib.h>
#include <dlfcn.h>

typedef void* (*malloc_fn)(size_t);
typedef void* (*calloc_fn)(size_t, size_t);
typedef void* (*realloc_fn)(void*, size_t);
typedef void  (*free_fn)(void*);

static void *resolve_malloc(void)  { return dlsym(RTLD_NEXT, "malloc"); }
static void *resolve_calloc(void)  { return dlsym(RTLD_NEXT, "calloc"); }
static void *resolve_realloc(void) { return dlsym(RTLD_NEXT, "realloc"); }
static void *resolve_free(void)    { return dlsym(RTLD_NEXT, "free"); }

static void *call_orig_malloc(void *fn, size_t size) {
	return ((malloc_fn)fn)(size);
}
static void *call_orig_calloc(void *fn, size_t num, size_t size) {
	return ((calloc_fn)fn)(num, size);
}
static void *call_orig_realloc(void *fn, void *ptr, size_t size) {
	return ((realloc_fn)fn)(ptr, size);
}
static void call_orig_free(void *fn, void *ptr) {
	((free_fn)fn)(ptr);
}

// in_hook is a thread-local reentrancy guard (§4.5, §9): the allocator
// itself, or code the tracker's own capture path calls into (notably
// libc's backtrace(), which may allocate its own symbol cache on first
// use), must never be recorded as if it were the target's own allocation.
// One flag per OS thread, not a mutex, since every thread needs its own
// independent "am I already inside a hook" bit.
static __thread int in_hook = 0;

static int hook_enter(void) {
	if (in_hook) {
		return 0;
	}
	in_hook = 1;
	return 1;
}

static void hook_exit(void) {
	in_hook = 0;
}

// onExit is defined and //export-ed in this same package (atexit.go);
// forward-declaring it here lets us pass its address to atexit before the
// cgo-generated export header exists for this translation unit.
extern void onExit(void);

static void register_atexit(void) {
	atexit(onExit);
}
*/
import "C"

import (
	"fmt"
	"unsafe"
)

var (
	origMalloc  unsafe.Pointer
	origCalloc  unsafe.Pointer
	origRealloc unsafe.Pointer
	origFree    unsafe.Pointer
)

func resolveOriginals() error {
	origMalloc = C.resolve_malloc()
	origCalloc = C.resolve_calloc()
	origRealloc = C.resolve_realloc()
	origFree = C.resolve_free()

	if origMalloc == nil || origCalloc == nil || origRealloc == nil || origFree == nil {
		return fmt.Errorf("could not locate one or more original allocator symbols via dlsym")
	}
	return nil
}

func registerAtExit() {
	C.register_atexit()
}

// malloc, calloc, realloc, and free are exported under their libc names
// on purpose: once this library is LD_PRELOAD'd, the dynamic linker's
// normal global symbol search order resolves every caller's reference to
// these names here first, ahead of the real libc. This is the standard
// Linux interposition technique and needs no rebinding trick; see
// hooks_darwin.go for why Darwin needs one.

//export malloc
func malloc(size C.size_t) unsafe.Pointer {
	ptr := C.call_orig_malloc(origMalloc, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnMalloc(uint64(size), uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
	return ptr
}

//export calloc
func calloc(num, size C.size_t) unsafe.Pointer {
	ptr := C.call_orig_calloc(origCalloc, num, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnCalloc(uint64(num), uint64(size), uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
	return ptr
}

//export realloc
func realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	out := C.call_orig_realloc(origRealloc, ptr, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnRealloc(uint64(size), uint64(uintptr(ptr)), uint64(uintptr(out)))
		}
		C.hook_exit()
	}
	return out
}

//export free
func free(ptr unsafe.Pointer) {
	C.call_orig_free(origFree, ptr)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnFree(uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
}
