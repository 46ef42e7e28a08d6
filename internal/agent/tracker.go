// Package agent implements the capture agent's process-wide allocation
// tracker: the piece that turns a malloc/calloc/realloc/free call into a
// backtrace, an interned stack index, and a raw ledger record.
//
// Grounded on original_source/libmemtrack/src/tracker.rs (the writer/init/
// close shape), original_source/src/lib.rs (the fuller my_malloc/my_calloc/
// my_realloc/my_free/my_exit call sites this type's methods are designed to
// be called from), original_source/libmemtrack/src/trace.rs (backtrace
// capture depth), and original_source/libmemtrack/src/trace_tree.rs (the
// stack interning this package delegates to internal/stacktree).
package agent

import (
	"io"
	"sync"

	"github.com/erigontech/memtrace/internal/backtrace"
	"github.com/erigontech/memtrace/internal/ledger"
	"github.com/erigontech/memtrace/internal/stacktree"
)

// ProtocolVersion is written once at startup (§6); tracker.rs's init()
// hardcodes the same value (write_version(100)).
const ProtocolVersion = 100

// Tracker is the single per-process instance cmd/libmemtrace's exported
// hooks call into. All public methods are safe to call concurrently from
// multiple OS threads, which is the normal case for a multi-threaded
// target: the mutex here is what the Rust original gets from wrapping its
// Tracker in a Mutex (original_source/src/lib.rs's `static TRACKER:
// LazyLock<Mutex<Option<Tracker>>>`).
//
// Reentrancy (a ledger write triggering its own allocation, or an
// allocator internally calling malloc) is not this type's concern: it must
// be kept out by a thread-local guard in the caller, one OS thread at a
// time, before Tracker's methods are ever invoked (§4.5, §9).
type Tracker struct {
	mu      sync.Mutex
	tree    *stacktree.Tree
	writer  *ledger.RawWriter
	capture func(skip int) []uint64
	depth   int
}

// New builds a Tracker that streams raw ledger records to w (the FIFO's
// write end, opened by cmd/libmemtrace during agent startup).
func New(w io.Writer) *Tracker {
	return &Tracker{
		tree:    stacktree.New(),
		writer:  ledger.NewRawWriter(w),
		capture: backtrace.Capture,
		depth:   backtrace.TrimDepth,
	}
}

// Init writes the protocol version record that must be the first byte on
// the wire (§6).
func (t *Tracker) Init() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteVersion(ProtocolVersion)
}

// OnMalloc records one allocation: capture the caller's stack, intern it,
// and emit whatever Trace records are newly needed followed by the Alloc
// record itself (§4.2, §4.3). ptr is the pointer the real allocator
// returned; size is the requested size (not the allocator's rounded-up
// usable size, matching the original's accounting).
func (t *Tracker) OnMalloc(size, ptr uint64) {
	if ptr == 0 {
		return // allocator failure: nothing was actually allocated
	}
	stack := backtrace.Reverse(t.capture(t.depth))

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.tree.Intern(stack, func(ip uint64, parentIndex int) {
		t.writer.WriteTrace(ip, uint64(parentIndex))
	})
	t.writer.WriteAlloc(size, uint64(idx), ptr)
}

// OnCalloc is OnMalloc with the size computed as num*size, matching
// original_source/src/lib.rs's my_calloc (`tracker.on_malloc(num * size, ...)`):
// the ledger has no separate calloc record, only Alloc.
func (t *Tracker) OnCalloc(num, size, ptr uint64) {
	t.OnMalloc(num*size, ptr)
}

// OnRealloc records a reallocation as a Free of the old pointer (when
// non-nil) followed by an allocation of the new one, the same
// free-then-alloc decomposition original_source/src/lib.rs's my_realloc
// performs by calling on_free semantics implicitly through the ledger's
// two-record shape. A realloc that merely shrinks or grows in place still
// gets a fresh stack and index: the original doesn't special-case this,
// and neither does this port (§4.5 Non-goals: no special in-place-resize
// detection).
func (t *Tracker) OnRealloc(size, oldPtr, newPtr uint64) {
	if oldPtr != 0 {
		t.mu.Lock()
		t.writer.WriteFree(oldPtr)
		t.mu.Unlock()
	}
	t.OnMalloc(size, newPtr)
}

// OnFree records a deallocation. A nil ptr (free(NULL) is a defined no-op
// in C) is still forwarded: the original unconditionally calls on_free,
// and a stray Free record for pointer 0 is harmless downstream since no
// Alloc record will ever carry that pointer value.
func (t *Tracker) OnFree(ptr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteFree(ptr)
}

// WriteExec records the target's own executable path (§6 "x" record),
// written once during agent startup before any allocation hook fires.
func (t *Tracker) WriteExec(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteExec(path)
}

// WritePageInfo records the host's page size and physical page count
// (§6 "X" record), gathered once at startup by cmd/libmemtrace's
// hostPageInfo.
func (t *Tracker) WritePageInfo(pageSize, physPages uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WritePageInfo(pageSize, physPages)
}

// WriteImage records one loaded code module (§6 "I" record), one per
// entry from internal/image.List at startup.
func (t *Tracker) WriteImage(name string, start, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteImage(name, start, size)
}

// WriteDuration and WriteRSS record the process's total wall-clock
// runtime and final resident-set size (§6 "c"/"R" records), written by
// the at-exit handler right before Close.
func (t *Tracker) WriteDuration(ms uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteDuration(ms)
}

func (t *Tracker) WriteRSS(rss uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.WriteRSS(rss)
}

// Close flushes any buffered, unwritten records. Mirrors tracker.rs's
// close() (`self.writer.flush()`), called from the at-exit handler.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writer.Flush()
}
