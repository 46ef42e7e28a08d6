package ledger

import (
	"bufio"
	"fmt"
	"io"
)

// Enriched record tags (§6). Several of them (v, t, -, c, R) are the same
// bytes as raw-format tags with different fields — the two formats are
// never parsed by the same reader.
const (
	ETagVersion     = 'v'
	ETagString      = 's'
	ETagInstruction = 'i'
	ETagTrace       = 't'
	ETagAlloc       = 'a'
	ETagFree        = '-'
	ETagDuration    = 'c'
	ETagRSS         = 'R'
)

// FrameKind distinguishes a Frame with only a resolved function from one
// that also carries file/line (possibly one of several inlined frames at
// the same instruction pointer, §3 Location).
type FrameKind int

const (
	FrameSingle FrameKind = iota
	FrameWithLine
)

// Frame is one entry in an "i" record's frame list.
type Frame struct {
	Kind       FrameKind
	FunctionID int
	FileID     int
	Line       uint16
}

// EnrichedWriter appends enriched records to a buffered stream.
type EnrichedWriter struct {
	w *bufio.Writer
}

func NewEnrichedWriter(w io.Writer) *EnrichedWriter {
	return &EnrichedWriter{w: bufio.NewWriterSize(w, 4096)}
}

func (w *EnrichedWriter) WriteVersion(version, fileVersion uint16) error {
	_, err := fmt.Fprintf(w.w, "v %x %x\n", version, fileVersion)
	return err
}

func (w *EnrichedWriter) WriteString(id int, value string) error {
	_, err := fmt.Fprintf(w.w, "s %x %s\n", len(value), value)
	_ = id // id is implicit (sequential); kept as a parameter for call-site clarity and assertions
	return err
}

// WriteInstruction writes an "i" record: an instruction pointer, the module
// it belongs to, and one or more frames (a primary frame plus any inlined
// frames, outer-most first, per §3's Location).
func (w *EnrichedWriter) WriteInstruction(ip uint64, moduleID int, frames []Frame) error {
	if len(frames) == 0 {
		return fmt.Errorf("ledger: instruction record requires at least one frame")
	}
	if _, err := fmt.Fprintf(w.w, "i %x %x", ip, moduleID); err != nil {
		return err
	}
	for _, f := range frames {
		var err error
		switch f.Kind {
		case FrameSingle:
			_, err = fmt.Fprintf(w.w, " %x", f.FunctionID)
		case FrameWithLine:
			_, err = fmt.Fprintf(w.w, " %x %x %x", f.FunctionID, f.FileID, f.Line)
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w.w, "\n")
	return err
}

func (w *EnrichedWriter) WriteTrace(ipFrameID int, parentIdx uint64) error {
	_, err := fmt.Fprintf(w.w, "t %x %x\n", ipFrameID, parentIdx)
	return err
}

func (w *EnrichedWriter) WriteAlloc(size uint64, stackIdx uint64) error {
	_, err := fmt.Fprintf(w.w, "a %x %x\n", size, stackIdx)
	return err
}

func (w *EnrichedWriter) WriteFree(stackIdx uint64) error {
	_, err := fmt.Fprintf(w.w, "- %x\n", stackIdx)
	return err
}

func (w *EnrichedWriter) WriteDuration(ms uint64) error {
	_, err := fmt.Fprintf(w.w, "c %x\n", ms)
	return err
}

func (w *EnrichedWriter) WriteRSS(rss uint64) error {
	_, err := fmt.Fprintf(w.w, "R %x\n", rss)
	return err
}

func (w *EnrichedWriter) Flush() error {
	return w.w.Flush()
}

// EnrichedRecord is the decoded form of one enriched-ledger line, used by
// internal/accum and by tests that round-trip the codec.
type EnrichedRecord struct {
	Kind RawKind // one of the EKind* values below, which start at 100 and don't collide with the raw Kind* values

	Version     uint16
	FileVersion uint16

	StringValue string

	IP       uint64
	ModuleID int
	Frames   []Frame

	TraceFrameID int
	ParentIdx    uint64

	AllocSize  uint64
	StackIndex uint64
}

const (
	EKindVersion RawKind = iota + 100
	EKindString
	EKindInstruction
	EKindTrace
	EKindAlloc
	EKindFree
	EKindDuration
	EKindRSS
)

// EnrichedReader parses an enriched ledger back into records. It is used by
// internal/accum and by tests; the interpreter itself only ever writes this
// format.
type EnrichedReader struct {
	r *bufio.Reader
}

func NewEnrichedReader(r io.Reader) *EnrichedReader {
	return &EnrichedReader{r: bufio.NewReaderSize(r, 4096)}
}

func (r *EnrichedReader) ReadRecord() (*EnrichedRecord, error) {
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

		rec, ok, perr := parseEnrichedLine(line)
		if perr != nil {
			return nil, perr
		}
		if ok {
			return rec, nil
		}
		if err == io.EOF {
			return nil, nil
		}
	}
}

func parseEnrichedLine(line string) (*EnrichedRecord, bool, error) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return nil, false, nil
	}

	switch fields[0] {
	case "v":
		version, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		fileVersion, err := parseHex(fields, 2)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindVersion, Version: uint16(version), FileVersion: uint16(fileVersion)}, true, nil
	case "s":
		if len(fields) < 3 {
			return nil, false, ErrInvalidFormat
		}
		return &EnrichedRecord{Kind: EKindString, StringValue: fields[2]}, true, nil
	case "i":
		ip, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		moduleID, err := parseHex(fields, 2)
		if err != nil {
			return nil, false, err
		}
		frameFields := fields[3:]
		if len(frameFields) == 0 {
			return nil, false, ErrInvalidFormat
		}
		frames, err := parseFrames(frameFields)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindInstruction, IP: ip, ModuleID: int(moduleID), Frames: frames}, true, nil
	case "t":
		frameID, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		parent, err := parseHex(fields, 2)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindTrace, TraceFrameID: int(frameID), ParentIdx: parent}, true, nil
	case "a":
		size, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		idx, err := parseHex(fields, 2)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindAlloc, AllocSize: size, StackIndex: idx}, true, nil
	case "-":
		idx, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindFree, StackIndex: idx}, true, nil
	case "c":
		ms, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindDuration, StackIndex: ms}, true, nil
	case "R":
		rss, err := parseHex(fields, 1)
		if err != nil {
			return nil, false, err
		}
		return &EnrichedRecord{Kind: EKindRSS, StackIndex: rss}, true, nil
	default:
		return nil, false, nil
	}
}

// parseFrames decodes a frame-spec list the same way the Rust original's
// parse_frame does (original_source/utils/src/parser.rs,
// original_source/utils/src/accum.rs): a frame is `function_id` alone only
// when it is the very last token on the line; otherwise it is
// `function_id file_id line`. This is positional, not tagged, which is why
// internal/symbol only ever emits a single primary frame per instruction
// (no inlined-frame resolution) — emitting a Single frame followed by more
// frames would be misread as the start of a WithLine triple. The
// positional grammar itself is carried over verbatim; its integer fields
// are hex like every other enriched field (§6), unlike the original's
// decimal frame ids.
func parseFrames(fields []string) ([]Frame, error) {
	var frames []Frame
	i := 0
	for i < len(fields) {
		funcID, err := parseIntField(fields[i])
		if err != nil {
			return nil, err
		}
		if i == len(fields)-1 {
			frames = append(frames, Frame{Kind: FrameSingle, FunctionID: funcID})
			i++
			continue
		}
		if i+2 >= len(fields) {
			return nil, ErrInvalidFormat
		}
		fileID, err := parseIntField(fields[i+1])
		if err != nil {
			return nil, err
		}
		line, err := parseIntField(fields[i+2])
		if err != nil {
			return nil, err
		}
		frames = append(frames, Frame{Kind: FrameWithLine, FunctionID: funcID, FileID: fileID, Line: uint16(line)})
		i += 3
	}
	return frames, nil
}

func parseIntField(s string) (int, error) {
	var v int
	_, err := fmt.Sscanf(s, "%x", &v)
	if err != nil {
		return 0, ErrInvalidFormat
	}
	return v, nil
}
