//go:build darwin

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

extern void onExit(void);

static void register_atexit(void) {
	atexit(onExit);
}

// Darwin's dynamic linker uses a two-level namespace: a caller's reference
// to "malloc" is bound to libSystem's malloc specifically, not resolved
// through the global symbol table the way Linux's LD_PRELOAD override
// relies on. Simply exporting a Go function named "malloc" from this
// library would therefore go unused. The original Rust agent reaches for
// fishhook here, which walks a binary's lazy symbol pointers and rewrites
// them directly; no Go import in the retrieved pack offers that. This
// port instead uses Apple's own documented DYLD_INTERPOSE macro (from
// <mach-o/dyld-interposing.h> in spirit; reproduced here since that header
// isn't guaranteed present on every SDK), which asks dyld itself to
// substitute our implementation for libSystem's at every call site,
// achieving the same effect through a linker feature instead of manual
// pointer patching.
#define DYLD_INTERPOSE(_replacement, _replacee) \
	__attribute__((used)) static struct { \
		const void *replacement; \
		const void *replacee; \
	} _interpose_##_replacee __attribute__((section("__DATA,__interpose"))) = { \
		(const void *)(unsigned long)&_replacement, \
		(const void *)(unsigned long)&_replacee \
	};

extern void *my_malloc(size_t);
extern void *my_calloc(size_t, size_t);
extern void *my_realloc(void*, size_t);
extern void my_free(void*);

DYLD_INTERPOSE(my_malloc, malloc)
DYLD_INTERPOSE(my_calloc, calloc)
DYLD_INTERPOSE(my_realloc, realloc)
DYLD_INTERPOSE(my_free, free)
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

//export my_malloc
func my_malloc(size C.size_t) unsafe.Pointer {
	ptr := C.call_orig_malloc(origMalloc, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnMalloc(uint64(size), uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
	return ptr
}

//export my_calloc
func my_calloc(num, size C.size_t) unsafe.Pointer {
	ptr := C.call_orig_calloc(origCalloc, num, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnCalloc(uint64(num), uint64(size), uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
	return ptr
}

//export my_realloc
func my_realloc(ptr unsafe.Pointer, size C.size_t) unsafe.Pointer {
	out := C.call_orig_realloc(origRealloc, ptr, size)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnRealloc(uint64(size), uint64(uintptr(ptr)), uint64(uintptr(out)))
		}
		C.hook_exit()
	}
	return out
}

//export my_free
func my_free(ptr unsafe.Pointer) {
	C.call_orig_free(origFree, ptr)
	if C.hook_enter() != 0 {
		if tr != nil {
			tr.OnFree(uint64(uintptr(ptr)))
		}
		C.hook_exit()
	}
}
