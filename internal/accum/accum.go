// Package accum loads an entire enriched ledger into memory and computes
// per-call-site allocation statistics, the way a report or a flame graph
// consumes a capture after the fact (§9 reporting).
//
// Grounded on original_source/utils/src/parser.rs's Parser/AccumulatedData,
// which is the original's equivalent full-file loader; this port adapts it
// to the enriched wire format internal/ledger already implements rather
// than the original's single-pass raw+allocation-index scheme, since this
// repo's interpreter (internal/interpreter) already resolved and flattened
// allocation identity down to a stack index by the time a file reaches
// here. The "temporary allocation" heuristic (an allocation immediately
// followed by a free of the same call site, with nothing else allocated in
// between) and the running total/leaked/peak bookkeeping are carried over
// as-is, including parser.rs's choice to decrement a call site's leaked
// total by its accumulated per-site size rather than the individual
// allocation's own size — an approximation that holds well for call sites
// that allocate uniformly-sized objects and poorly otherwise, but changing
// it would be inventing a different statistic than the one being ported.
package accum

import (
	"fmt"
	"io"
	"time"

	"github.com/erigontech/memtrace/internal/ledger"
)

// Instruction is one resolved instruction pointer, carried over verbatim
// from its "i" record.
type Instruction struct {
	IP       uint64
	ModuleID int
	Frames   []ledger.Frame
}

// TraceNode is one call-stack node: the instruction it represents and the
// node it was reached from (0 for a root frame, §6).
type TraceNode struct {
	InstructionID int
	ParentIdx     uint64
}

// StackStats accumulates allocation activity attributed to one call-stack
// node (one "t" record's position), mirroring parser.rs's AllocationData.
type StackStats struct {
	Allocations uint64 // number of "a" records seen at this stack node
	Temporary   uint64 // of those, how many were immediately freed
	Leaked      uint64 // bytes currently unreclaimed at this stack node
	Size        uint64 // cumulative bytes ever requested at this stack node
}

// Data is an entire capture, loaded into memory for reporting.
type Data struct {
	Strings      []string
	Instructions []Instruction
	Traces       []TraceNode

	Total    StackStats
	ByStack  map[uint64]*StackStats
	Peak     uint64 // highest Total.Leaked watermark observed across the run
	Duration time.Duration
	PeakRSS  uint64
}

// Load reads an enriched ledger to completion and returns the accumulated
// statistics. It is the in-memory counterpart to the streaming resolution
// internal/interpreter performs; a report or flame-graph renderer walks
// the result rather than re-parsing the file itself.
func Load(r io.Reader) (*Data, error) {
	data := &Data{ByStack: make(map[uint64]*StackStats)}
	l := &loader{data: data}

	er := ledger.NewEnrichedReader(r)
	for {
		rec, err := er.ReadRecord()
		if err != nil {
			return nil, fmt.Errorf("accum: %w", err)
		}
		if rec == nil {
			break
		}
		if err := l.handle(rec); err != nil {
			return nil, fmt.Errorf("accum: %w", err)
		}
	}

	return data, nil
}

type loader struct {
	data *Data

	// lastStack and hasLast track the stack node of the most recently
	// handled Alloc record, the same single-slot memory parser.rs's
	// last_ptr uses to detect a temporary allocation: a Free for the
	// exact stack node that was *just* allocated, with no other Alloc in
	// between.
	lastStack uint64
	hasLast   bool
}

func (l *loader) handle(rec *ledger.EnrichedRecord) error {
	data := l.data
	switch rec.Kind {
	case ledger.EKindString:
		data.Strings = append(data.Strings, rec.StringValue)
	case ledger.EKindInstruction:
		data.Instructions = append(data.Instructions, Instruction{IP: rec.IP, ModuleID: rec.ModuleID, Frames: rec.Frames})
	case ledger.EKindTrace:
		data.Traces = append(data.Traces, TraceNode{InstructionID: rec.TraceFrameID, ParentIdx: rec.ParentIdx})
	case ledger.EKindAlloc:
		l.onAlloc(rec.StackIndex, rec.AllocSize)
	case ledger.EKindFree:
		l.onFree(rec.StackIndex)
	case ledger.EKindDuration:
		data.Duration = time.Duration(rec.StackIndex) * time.Millisecond
	case ledger.EKindRSS:
		if rec.StackIndex > data.PeakRSS {
			data.PeakRSS = rec.StackIndex
		}
	}
	return nil
}

func (l *loader) bucket(stackIdx uint64) *StackStats {
	b, ok := l.data.ByStack[stackIdx]
	if !ok {
		b = &StackStats{}
		l.data.ByStack[stackIdx] = b
	}
	return b
}

func (l *loader) onAlloc(stackIdx, size uint64) {
	b := l.bucket(stackIdx)
	b.Size += size
	b.Allocations++
	b.Leaked += size

	l.data.Total.Allocations++
	l.data.Total.Leaked += size
	if l.data.Total.Leaked > l.data.Peak {
		l.data.Peak = l.data.Total.Leaked
	}

	l.lastStack = stackIdx
	l.hasLast = true
}

func (l *loader) onFree(stackIdx uint64) {
	b := l.bucket(stackIdx)

	// parser.rs decrements by the bucket's cumulative size, not the
	// individual allocation's size; see the package doc for why this is
	// preserved rather than corrected.
	b.Leaked -= b.Size
	l.data.Total.Leaked -= b.Size

	temporary := l.hasLast && l.lastStack == stackIdx
	l.hasLast = false
	if temporary {
		b.Temporary++
		l.data.Total.Temporary++
	}
}
