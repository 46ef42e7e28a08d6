// Package interpreter drives a capture run end to end: it reads raw
// ledger records from internal/runner, resolves each instruction pointer
// via internal/symbol, interns strings and instructions into the
// enriched format's pools, and writes the result with internal/ledger.
//
// Grounded on original_source/interpret/src/executor.rs (the read loop
// this replaces runner.Runner.Next's polling with) and
// original_source/memtrace/src/symbolicate.rs (resolve-then-emit shape);
// the pool/referential-integrity bookkeeping (§8) that the original
// didn't need because the Rust interpreter kept everything in memory as
// native structs is this package's own addition, required once the
// output is a textual, streamed format that must reference IDs assigned
// earlier in the same stream.
package interpreter

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/erigontech/memtrace/internal/image"
	"github.com/erigontech/memtrace/internal/ledger"
	"github.com/erigontech/memtrace/internal/metrics"
	"github.com/erigontech/memtrace/internal/symbol"
	"github.com/erigontech/memtrace/internal/telemetry"
)

// Source supplies the raw records an Interpreter replays into the
// enriched format. internal/runner.Runner satisfies it directly (a live
// capture); NewFileSource wraps a plain raw-ledger file for the "resolve"
// subcommand's offline re-resolution (§10.4).
type Source interface {
	Next() (*ledger.RawRecord, error)
}

// fileSource adapts a *ledger.RawReader over a closed (already-complete)
// raw ledger file to the Source interface, translating the reader's
// (nil, nil) end-of-stream into io.EOF the way runner.Runner's polling
// Next does for a live run.
type fileSource struct {
	r *ledger.RawReader
}

// NewFileSource builds a Source that replays every record already present
// in r once, for re-resolving a previously captured raw ledger without a
// live target process.
func NewFileSource(r io.Reader) Source {
	return &fileSource{r: ledger.NewRawReader(r)}
}

func (f *fileSource) Next() (*ledger.RawRecord, error) {
	rec, err := f.r.ReadRecord()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, io.EOF
	}
	return rec, nil
}

// liveAlloc is what the interpreter remembers about an outstanding
// allocation between its alloc and free records: the stack index a
// matching free must be attributed to, and the size that LiveAllocBytes
// tracks until that free arrives.
type liveAlloc struct {
	stackIndex uint64
	size       uint64
}

// unknownModuleID is stamped on an "i" record when an instruction pointer
// doesn't fall inside any known module's address range (a stripped or
// since-unmapped image). It deliberately isn't -1: the wire format's
// moduleID field is parsed as an unsigned hex integer (§6), so a sentinel
// must itself be representable as one.
const unknownModuleID = 0xffffffff

// EnrichedProtocolVersion and FileVersion are the two integers written to
// the enriched ledger's "v" record (§6); FileVersion increments only when
// the enriched wire format itself changes shape.
const (
	EnrichedProtocolVersion = agentProtocolVersion
	FileVersion             = 1
)

// agentProtocolVersion mirrors agent.ProtocolVersion without importing
// internal/agent (which pulls in cgo-only internal/backtrace); kept in
// sync by hand since both sides of the wire are built from this same repo.
const agentProtocolVersion = 100

// Interpreter owns one capture run's resolution state.
type Interpreter struct {
	run     Source
	out     *ledger.EnrichedWriter
	rawTee  *ledger.RawWriter
	metrics *metrics.Registry
	log     *telemetry.Logger

	cacheSize int
	resolver  *symbol.Resolver
	images    []image.Image

	strings     map[string]int
	stringOrder []string

	instructions map[uint64]int

	live      map[uint64]liveAlloc // allocated pointer -> owning stack index + size
	liveBytes uint64               // sum of live[*].size, kept incrementally for LiveAllocBytes

	// imageOverride remaps a recorded image's path before it's opened,
	// for re-resolving a capture against debug info that didn't exist
	// (or lived elsewhere) when the target ran (§10.4, §12 "resolve").
	imageOverride map[string]string
}

// WithImageOverride remaps a recorded image's path to an alternate file
// before the resolver opens it, for the "resolve" subcommand's offline
// use case: a stripped binary's separate debug-info file becoming
// available only after the capture already ran. Must be called before
// the first Image record is processed: the remap is applied as each
// Image record is handled, and images already recorded keep their path.
func (in *Interpreter) WithImageOverride(overrides map[string]string) *Interpreter {
	in.imageOverride = overrides
	return in
}

// New builds an Interpreter that reads from run and writes the enriched
// format to out. rawTee, if non-nil, additionally receives a verbatim
// replay of every raw record read (prefixed with a comment record naming
// session), so a capture can be re-resolved later via the "resolve"
// subcommand without re-running the target.
func New(run Source, resolver int, out io.Writer, rawTee io.Writer, session uuid.UUID, log *telemetry.Logger, m *metrics.Registry) *Interpreter {
	in := &Interpreter{
		run:          run,
		out:          ledger.NewEnrichedWriter(out),
		metrics:      m,
		log:          log,
		cacheSize:    resolver,
		strings:      make(map[string]int),
		instructions: make(map[uint64]int),
		live:         make(map[uint64]liveAlloc),
	}
	if rawTee != nil {
		in.rawTee = ledger.NewRawWriter(rawTee)
		in.rawTee.WriteComment("session " + session.String())
	}
	return in
}

// Run drains the runner until it reports completion, returning nil on a
// clean end of capture (§2 control flow).
func (in *Interpreter) Run() error {
	if err := in.out.WriteVersion(EnrichedProtocolVersion, FileVersion); err != nil {
		return fmt.Errorf("interpreter: write version: %w", err)
	}

	for {
		rec, err := in.run.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("interpreter: %w", err)
		}

		in.teeRaw(rec)

		if err := in.handle(rec); err != nil {
			return fmt.Errorf("interpreter: handle %v record: %w", rec.Kind, err)
		}
	}

	if in.rawTee != nil {
		in.rawTee.Flush()
	}
	return in.out.Flush()
}

func (in *Interpreter) teeRaw(rec *ledger.RawRecord) {
	if in.rawTee == nil {
		return
	}
	switch rec.Kind {
	case ledger.KindVersion:
		in.rawTee.WriteVersion(rec.Version)
	case ledger.KindExec:
		in.rawTee.WriteExec(rec.ExecPath)
	case ledger.KindPageInfo:
		in.rawTee.WritePageInfo(rec.PageSize, rec.PhysPages)
	case ledger.KindImage:
		in.rawTee.WriteImage(rec.ImageName, rec.ImageStart, rec.ImageSize)
	case ledger.KindTrace:
		in.rawTee.WriteTrace(rec.IP, rec.ParentIdx)
	case ledger.KindAlloc:
		in.rawTee.WriteAlloc(rec.AllocSize, rec.StackIndex, rec.Ptr)
	case ledger.KindFree:
		in.rawTee.WriteFree(rec.FreePtr)
	case ledger.KindDuration:
		in.rawTee.WriteDuration(rec.DurationMs)
	case ledger.KindRSS:
		in.rawTee.WriteRSS(rec.RSSBytes)
	case ledger.KindComment:
		in.rawTee.WriteComment(rec.Comment)
	}
}

func (in *Interpreter) handle(rec *ledger.RawRecord) error {
	switch rec.Kind {
	case ledger.KindVersion:
		in.log.Debug("agent protocol version", "version", rec.Version)
		return nil
	case ledger.KindExec:
		in.log.Info("target executable", "path", rec.ExecPath)
		return nil
	case ledger.KindPageInfo:
		in.log.Debug("host page info", "page_size", rec.PageSize, "phys_pages", rec.PhysPages)
		return nil
	case ledger.KindImage:
		path := rec.ImageName
		if alt, ok := in.imageOverride[path]; ok {
			path = alt
		}
		in.images = append(in.images, image.Image{Path: path, Base: rec.ImageStart, Size: rec.ImageSize})
		return nil
	case ledger.KindTrace:
		if err := in.ensureResolver(); err != nil {
			return err
		}
		return in.handleTrace(rec)
	case ledger.KindAlloc:
		in.metrics.EventsProcessed.WithLabelValues("alloc").Inc()
		in.live[rec.Ptr] = liveAlloc{stackIndex: rec.StackIndex, size: rec.AllocSize}
		in.liveBytes += rec.AllocSize
		in.metrics.LiveAllocBytes.Set(float64(in.liveBytes))
		in.metrics.LiveAllocCount.Set(float64(len(in.live)))
		return in.out.WriteAlloc(rec.AllocSize, rec.StackIndex)
	case ledger.KindFree:
		in.metrics.EventsProcessed.WithLabelValues("free").Inc()
		la, ok := in.live[rec.FreePtr]
		if !ok {
			// Freed a pointer this capture never saw allocated (allocated
			// before the agent attached, or a free(NULL)); nothing to
			// attribute to a stack, so there is no enriched Free to emit.
			return nil
		}
		delete(in.live, rec.FreePtr)
		in.liveBytes -= la.size
		in.metrics.LiveAllocBytes.Set(float64(in.liveBytes))
		in.metrics.LiveAllocCount.Set(float64(len(in.live)))
		return in.out.WriteFree(la.stackIndex)
	case ledger.KindDuration:
		in.metrics.EventsProcessed.WithLabelValues("duration").Inc()
		return in.out.WriteDuration(rec.DurationMs)
	case ledger.KindRSS:
		in.metrics.EventsProcessed.WithLabelValues("rss").Inc()
		return in.out.WriteRSS(rec.RSSBytes)
	case ledger.KindComment:
		in.log.Debug("ledger comment", "text", rec.Comment)
		return nil
	default:
		return nil
	}
}

func (in *Interpreter) ensureResolver() error {
	if in.resolver != nil {
		return nil
	}
	r, err := symbol.New(in.images, in.cacheSize)
	if err != nil {
		return fmt.Errorf("build resolver: %w", err)
	}
	in.resolver = r
	in.metrics.ModulesLoaded.Set(float64(len(in.images)))
	return nil
}

func (in *Interpreter) handleTrace(rec *ledger.RawRecord) error {
	in.metrics.EventsProcessed.WithLabelValues("trace").Inc()

	start := time.Now()
	loc, hit := in.resolver.Resolve(rec.IP)
	in.metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	if hit {
		in.metrics.ResolveCacheHits.Inc()
	} else {
		in.metrics.ResolveCacheMiss.Inc()
	}

	funcID, err := in.internString(loc.Function)
	if err != nil {
		return err
	}

	frame := ledger.Frame{Kind: ledger.FrameSingle, FunctionID: funcID}
	if loc.File != "" {
		fileID, err := in.internString(loc.File)
		if err != nil {
			return err
		}
		frame = ledger.Frame{Kind: ledger.FrameWithLine, FunctionID: funcID, FileID: fileID, Line: uint16(loc.Line)}
	}

	instrID, isNew := in.internInstruction(rec.IP)
	if isNew {
		moduleID := unknownModuleID
		if idx, ok := in.resolver.ModuleIndex(rec.IP); ok {
			moduleID = idx
		}
		if err := in.out.WriteInstruction(rec.IP, moduleID, []ledger.Frame{frame}); err != nil {
			return err
		}
	}

	return in.out.WriteTrace(instrID, rec.ParentIdx)
}

// internString returns s's pool id, writing a new "s" record the first
// time s is seen. Pool ids are assigned in insertion order (§6), which is
// why callers must not reorder string interning relative to the records
// they accompany.
func (in *Interpreter) internString(s string) (int, error) {
	if id, ok := in.strings[s]; ok {
		return id, nil
	}
	id := len(in.stringOrder)
	in.stringOrder = append(in.stringOrder, s)
	in.strings[s] = id
	if err := in.out.WriteString(id, s); err != nil {
		return 0, err
	}
	return id, nil
}

// internInstruction returns ip's instruction-record id, assigning a new
// one (and reporting isNew so the caller writes the "i" record) the first
// time ip is seen.
func (in *Interpreter) internInstruction(ip uint64) (id int, isNew bool) {
	if id, ok := in.instructions[ip]; ok {
		return id, false
	}
	id = len(in.instructions)
	in.instructions[ip] = id
	return id, true
}

// Close releases the resolver's open module handles, if one was built.
func (in *Interpreter) Close() {
	if in.resolver != nil {
		in.resolver.Close()
	}
}
