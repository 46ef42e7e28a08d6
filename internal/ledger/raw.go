// Package ledger implements the line-oriented textual event protocol
// exchanged between the capture agent and the interpreter (the "raw"
// format, §6), and the richer format the interpreter writes to disk
// (the "enriched" format, §6).
//
// Both formats share one design rationale: text is robust to partial
// reads on a FIFO (line buffering aligns with record boundaries),
// trivially diffable for debugging, and the hot-path writer only ever
// does hex-integer formatting.
package ledger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Raw record tags, one ASCII byte each (§6).
const (
	TagVersion  = 'v'
	TagExec     = 'x'
	TagPageInfo = 'X'
	TagImage    = 'I'
	TagTrace    = 't'
	TagAlloc    = '+'
	TagFree     = '-'
	TagDuration = 'c'
	TagRSS      = 'R'
	TagComment  = '#'
)

// RawKind identifies the decoded type of a RawRecord.
type RawKind int

const (
	KindVersion RawKind = iota
	KindExec
	KindPageInfo
	KindImage
	KindTrace
	KindAlloc
	KindFree
	KindDuration
	KindRSS
	KindComment
)

// RawRecord is the decoded form of one line of the raw ledger. Only the
// fields relevant to Kind are populated; this mirrors the Rust original's
// Record enum (original_source/utils/src/pipe_io.rs) but as a single
// struct, which is the idiomatic Go shape for a small closed set of
// variants read in a hot loop.
type RawRecord struct {
	Kind RawKind

	Version uint16

	// Exec
	ExecPath string

	// PageInfo
	PageSize    uint64
	PhysPages   uint64

	// Image
	ImageName  string
	ImageStart uint64
	ImageSize  uint64

	// Trace
	IP         uint64
	ParentIdx  uint64

	// Alloc
	AllocSize  uint64
	StackIndex uint64
	Ptr        uint64

	// Free
	FreePtr uint64

	// Duration
	DurationMs uint64

	// RSS
	RSSBytes uint64

	// Comment
	Comment string
}

// ErrInvalidFormat is returned for a malformed raw-ledger line.
var ErrInvalidFormat = fmt.Errorf("ledger: invalid format")

// RawWriter appends raw records to a buffered stream. Every write_* method
// never blocks on user I/O faults: failures are swallowed (§4.1, §7) because
// the hot path must never propagate a write error back into the target's
// allocator call — the profile is simply truncated.
type RawWriter struct {
	w *bufio.Writer
}

// NewRawWriter wraps w in a 4096-byte buffer, matching the capacity the
// original Rust writer used (original_source/utils/src/pipe_io.rs).
func NewRawWriter(w io.Writer) *RawWriter {
	return &RawWriter{w: bufio.NewWriterSize(w, 4096)}
}

func (w *RawWriter) WriteVersion(version uint16) {
	fmt.Fprintf(w.w, "v %d\n", version)
}

func (w *RawWriter) WriteExec(path string) {
	fmt.Fprintf(w.w, "x %x %s\n", len(path), path)
}

func (w *RawWriter) WritePageInfo(pageSize, physPages uint64) {
	fmt.Fprintf(w.w, "X %x %x\n", pageSize, physPages)
}

func (w *RawWriter) WriteImage(name string, start, size uint64) {
	fmt.Fprintf(w.w, "I %x %x %s\n", start, size, name)
}

func (w *RawWriter) WriteTrace(ip, parentIdx uint64) {
	fmt.Fprintf(w.w, "t %x %x\n", ip, parentIdx)
}

func (w *RawWriter) WriteAlloc(size, stackIndex, ptr uint64) {
	fmt.Fprintf(w.w, "+ %x %x %x\n", size, stackIndex, ptr)
}

func (w *RawWriter) WriteFree(ptr uint64) {
	fmt.Fprintf(w.w, "- %x\n", ptr)
}

func (w *RawWriter) WriteDuration(ms uint64) {
	fmt.Fprintf(w.w, "c %d\n", ms)
}

func (w *RawWriter) WriteRSS(rss uint64) {
	fmt.Fprintf(w.w, "R %x\n", rss)
}

func (w *RawWriter) WriteComment(text string) {
	fmt.Fprintf(w.w, "# %s\n", text)
}

// Flush pushes buffered bytes to the underlying writer. Any error is
// swallowed: there is no recovery action available on the agent's hot
// path, and the caller (the at-exit handler, §4.5) has nothing useful to
// do with it either.
func (w *RawWriter) Flush() {
	_ = w.w.Flush()
}

// RawReader parses the raw ledger line by line. Unknown record tags are
// skipped (forward compatibility, §4.1); a malformed known tag surfaces
// ErrInvalidFormat.
type RawReader struct {
	r    *bufio.Reader
	line []byte
}

func NewRawReader(r io.Reader) *RawReader {
	return &RawReader{r: bufio.NewReaderSize(r, 4096)}
}

// ReadRecord returns the next record, (nil, nil) at EOF, or a non-nil error
// on a malformed line or I/O failure. Unknown tags are silently skipped by
// looping internally rather than surfacing an empty record to the caller.
func (r *RawReader) ReadRecord() (*RawRecord, error) {
	for {
		line, err := r.r.ReadString('\n')
		if len(line) == 0 {
			if err == io.EOF {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
		}

		rec, ok, perr := parseRawLine(line)
		if perr != nil {
			return nil, perr
		}
		if ok {
			return rec, nil
		}
		if err == io.EOF {
			return nil, nil
		}
		// unknown tag or blank line: keep reading
	}
}

func parseRawLine(line string) (*RawRecord, bool, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return nil, false, nil
	}

	tag := fields[0]
	rest := fields[1:]

	switch tag {
	case "v":
		v, err := parseDec(rest, 0)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindVersion, Version: uint16(v)}, true, nil
	case "x":
		if len(rest) < 2 {
			return nil, false, ErrInvalidFormat
		}
		return &RawRecord{Kind: KindExec, ExecPath: rest[1]}, true, nil
	case "X":
		size, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		pages, err := parseHex(rest, 1)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindPageInfo, PageSize: size, PhysPages: pages}, true, nil
	case "I":
		start, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		size, err := parseHex(rest, 1)
		if err != nil {
			return nil, false, err
		}
		if len(rest) < 3 {
			return nil, false, ErrInvalidFormat
		}
		return &RawRecord{Kind: KindImage, ImageStart: start, ImageSize: size, ImageName: rest[2]}, true, nil
	case "t":
		ip, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		parent, err := parseHex(rest, 1)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindTrace, IP: ip, ParentIdx: parent}, true, nil
	case "+":
		size, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		idx, err := parseHex(rest, 1)
		if err != nil {
			return nil, false, err
		}
		ptr, err := parseHex(rest, 2)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindAlloc, AllocSize: size, StackIndex: idx, Ptr: ptr}, true, nil
	case "-":
		ptr, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindFree, FreePtr: ptr}, true, nil
	case "c":
		ms, err := parseDec(rest, 0)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindDuration, DurationMs: ms}, true, nil
	case "R":
		rss, err := parseHex(rest, 0)
		if err != nil {
			return nil, false, err
		}
		return &RawRecord{Kind: KindRSS, RSSBytes: rss}, true, nil
	case "#":
		return &RawRecord{Kind: KindComment, Comment: joinRest(rest)}, true, nil
	default:
		return nil, false, nil
	}
}

func splitFields(line string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(line); i++ {
		var c byte
		if i < len(line) {
			c = line[i]
		}
		isSpace := c == ' ' || c == '\t' || c == '\n' || c == '\r' || i == len(line)
		if !isSpace {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, line[start:i])
			start = -1
		}
	}
	return fields
}

func joinRest(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}

func parseHex(fields []string, idx int) (uint64, error) {
	if idx >= len(fields) {
		return 0, ErrInvalidFormat
	}
	v, err := strconv.ParseUint(fields[idx], 16, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return v, nil
}

func parseDec(fields []string, idx int) (uint64, error) {
	if idx >= len(fields) {
		return 0, ErrInvalidFormat
	}
	v, err := strconv.ParseUint(fields[idx], 10, 64)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return v, nil
}
