package interpreter

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/memtrace/internal/ledger"
	"github.com/erigontech/memtrace/internal/metrics"
	"github.com/erigontech/memtrace/internal/telemetry"
)

func newTestInterpreter(t *testing.T, out, rawOut *bytes.Buffer) *Interpreter {
	t.Helper()
	require.NoError(t, telemetry.Init("error", false))
	var rawWriter *bytes.Buffer
	if rawOut != nil {
		rawWriter = rawOut
	}
	var in *Interpreter
	if rawWriter != nil {
		in = New(nil, 16, out, rawWriter, uuid.Nil, telemetry.New("test"), metrics.New())
	} else {
		in = New(nil, 16, out, nil, uuid.Nil, telemetry.New("test"), metrics.New())
	}
	return in
}

func readAll(t *testing.T, buf *bytes.Buffer) []*ledger.EnrichedRecord {
	t.Helper()
	r := ledger.NewEnrichedReader(bytes.NewReader(buf.Bytes()))
	var recs []*ledger.EnrichedRecord
	for {
		rec, err := r.ReadRecord()
		require.NoError(t, err)
		if rec == nil {
			break
		}
		recs = append(recs, rec)
	}
	return recs
}

// TestHandleAllocFreeRoundTrip exercises the ptr->stackIndex live map: a
// raw Alloc followed by a raw Free for the same pointer must produce an
// enriched Free keyed by the original alloc's stack index, not the
// pointer (§6, enriched "-" differs from raw "-").
func TestHandleAllocFreeRoundTrip(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindAlloc, AllocSize: 0x40, StackIndex: 7, Ptr: 0xaaaa}))
	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindFree, FreePtr: 0xaaaa}))
	require.NoError(t, in.out.Flush())

	recs := readAll(t, &out)
	require.Len(t, recs, 2)
	require.Equal(t, uint64(0x40), recs[0].AllocSize)
	require.Equal(t, uint64(7), recs[0].StackIndex)
	require.Equal(t, uint64(7), recs[1].StackIndex)

	require.Equal(t, float64(0), testutil.ToFloat64(in.metrics.LiveAllocBytes))
	require.Equal(t, float64(0), testutil.ToFloat64(in.metrics.LiveAllocCount))
}

// TestLiveAllocGaugesTrackOutstandingBytes checks LiveAllocBytes/
// LiveAllocCount rise on an alloc and fall back on its matching free,
// rather than sitting at zero forever (SPEC_FULL.md §11).
func TestLiveAllocGaugesTrackOutstandingBytes(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindAlloc, AllocSize: 0x10, StackIndex: 1, Ptr: 0x1}))
	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindAlloc, AllocSize: 0x20, StackIndex: 2, Ptr: 0x2}))
	require.Equal(t, float64(0x30), testutil.ToFloat64(in.metrics.LiveAllocBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(in.metrics.LiveAllocCount))

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindFree, FreePtr: 0x1}))
	require.Equal(t, float64(0x20), testutil.ToFloat64(in.metrics.LiveAllocBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(in.metrics.LiveAllocCount))
}

// TestHandleFreeWithoutAllocIsIgnored covers a free for a pointer this
// capture never saw allocated: no enriched record should be emitted and
// no error should surface.
func TestHandleFreeWithoutAllocIsIgnored(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindFree, FreePtr: 0xdead}))
	require.NoError(t, in.out.Flush())

	require.Empty(t, readAll(t, &out))
}

// TestHandleTraceInternsOncePerInstruction checks that two Trace records
// for the same instruction pointer produce only one "i" record but two
// "t" records, and that the string pool is likewise deduplicated.
func TestHandleTraceInternsOncePerInstruction(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x1000, ParentIdx: 0}))
	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x1000, ParentIdx: 1}))
	require.NoError(t, in.out.Flush())

	recs := readAll(t, &out)

	var strings, instrs, traces int
	for _, r := range recs {
		switch r.Kind {
		case ledger.EKindString:
			strings++
		case ledger.EKindInstruction:
			instrs++
		case ledger.EKindTrace:
			traces++
		}
	}
	require.Equal(t, 1, strings, "unresolved ip always demangles to the same <unknown> string")
	require.Equal(t, 1, instrs, "same ip should only get one instruction record")
	require.Equal(t, 2, traces)
}

// TestHandleTraceUnknownModuleID checks an instruction pointer outside
// every loaded image's range is stamped with the unknown-module sentinel
// rather than a negative or out-of-range value.
func TestHandleTraceUnknownModuleID(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x1000, ParentIdx: 0}))
	require.NoError(t, in.out.Flush())

	recs := readAll(t, &out)
	require.Len(t, recs, 3) // "s <unknown>", "i", "t"
	require.Equal(t, ledger.EKindInstruction, recs[1].Kind)
	require.Equal(t, unknownModuleID, recs[1].ModuleID)
}

// TestHandleTraceCacheHitMissCounters checks resolving the same ip twice
// counts exactly one miss (the resolver's LRU is empty) and one hit
// (SPEC_FULL.md §11 names "resolver cache hit rate" as a tracked metric).
func TestHandleTraceCacheHitMissCounters(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x1000, ParentIdx: 0}))
	require.Equal(t, float64(1), testutil.ToFloat64(in.metrics.ResolveCacheMiss))
	require.Equal(t, float64(0), testutil.ToFloat64(in.metrics.ResolveCacheHits))

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x1000, ParentIdx: 1}))
	require.Equal(t, float64(1), testutil.ToFloat64(in.metrics.ResolveCacheMiss))
	require.Equal(t, float64(1), testutil.ToFloat64(in.metrics.ResolveCacheHits))
}

// TestTeeRawReplaysRecords checks that every record kind handled produces
// an equivalent raw-format line on the tee writer, independent of what the
// enriched side does with it.
func TestTeeRawReplaysRecords(t *testing.T) {
	var out, raw bytes.Buffer
	in := newTestInterpreter(t, &out, &raw)

	recsIn := []*ledger.RawRecord{
		{Kind: ledger.KindVersion, Version: 100},
		{Kind: ledger.KindExec, ExecPath: "/bin/app"},
		{Kind: ledger.KindPageInfo, PageSize: 0x1000, PhysPages: 0x100},
		{Kind: ledger.KindImage, ImageName: "/lib/libc.so", ImageStart: 0x7f0000000000, ImageSize: 0x20000},
		{Kind: ledger.KindComment, Comment: "hello"},
	}
	for _, rec := range recsIn {
		in.teeRaw(rec)
	}
	in.rawTee.Flush()

	lines := bytes.Split(bytes.TrimRight(raw.Bytes(), "\n"), []byte("\n"))
	// one "# session ..." line written at construction time, plus one per
	// record handed to teeRaw above.
	require.Len(t, lines, 1+len(recsIn))
	require.Contains(t, string(lines[0]), "session")
}

// TestEnsureResolverIsIdempotent checks the resolver is only built once,
// even across multiple Trace records, and that ModulesLoaded reflects the
// image count observed before the first Trace arrived.
func TestEnsureResolverIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil)

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindImage, ImageName: "/bin/app", ImageStart: 0x400000, ImageSize: 0x1000}))
	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x400010, ParentIdx: 0}))
	resolverAfterFirst := in.resolver
	require.NotNil(t, resolverAfterFirst)
	require.Equal(t, float64(1), testutil.ToFloat64(in.metrics.ModulesLoaded))

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindTrace, IP: 0x400020, ParentIdx: 1}))
	require.Same(t, resolverAfterFirst, in.resolver)
}

// TestWithImageOverrideRemapsPath checks an image path substitution is
// applied before the resolver ever sees the original path, for offline
// re-resolution against debug info installed after the capture ran.
func TestWithImageOverrideRemapsPath(t *testing.T) {
	var out bytes.Buffer
	in := newTestInterpreter(t, &out, nil).
		WithImageOverride(map[string]string{"/app/worker": "/app/worker.debug"})

	require.NoError(t, in.handle(&ledger.RawRecord{Kind: ledger.KindImage, ImageName: "/app/worker", ImageStart: 0x400000, ImageSize: 0x1000}))
	require.Len(t, in.images, 1)
	require.Equal(t, "/app/worker.debug", in.images[0].Path)
}

// TestFileSourceTranslatesEOF checks the adapter that lets a plain raw
// ledger file stand in for a live runner.Runner converts the reader's
// (nil, nil) end-of-stream into io.EOF, matching what Interpreter.Run
// expects from any Source.
func TestFileSourceTranslatesEOF(t *testing.T) {
	var raw bytes.Buffer
	w := ledger.NewRawWriter(&raw)
	w.WriteVersion(100)
	w.Flush()

	src := NewFileSource(&raw)

	rec, err := src.Next()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, ledger.KindVersion, rec.Kind)

	_, err = src.Next()
	require.ErrorIs(t, err, io.EOF)
}
