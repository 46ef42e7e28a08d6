package symbol

import (
	"debug/dwarf"
	"sort"
)

// lineEntry is a flattened row out of one compile unit's line-number program,
// kept only long enough to binary-search it for the nearest address.
type lineEntry struct {
	addr uint64
	file string
	line int
}

// dwarfUnit is one compile unit's flattened line table and subprogram list.
// Every unit of a module is built together, the first time a lookup needs
// that module's DWARF (module.ensureDWARF).
type dwarfUnit struct {
	lines []lineEntry // sorted by addr
	funcs []dwarfFunc
}

type dwarfFunc struct {
	low, high uint64
	name      string
}

// buildDWARFIndex walks every compile unit once and flattens its line
// program and subprogram list for later binary search. Grounded on the
// original's reliance on a single upfront symbolication pass per module
// (symbolicate.rs builds one lookup table per loaded image rather than
// re-walking DWARF per address).
func buildDWARFIndex(dw *dwarf.Data) []*dwarfUnit {
	var units []*dwarfUnit
	r := dw.Reader()
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		u := &dwarfUnit{}
		collectFuncs(dw, r, u)
		if lr, err := dw.LineReader(entry); err == nil && lr != nil {
			collectLines(lr, u)
			sort.SliceStable(u.lines, func(i, j int) bool { return u.lines[i].addr < u.lines[j].addr })
		}
		units = append(units, u)
	}
	return units
}

// collectFuncs reads the children of the compile unit entry just returned
// by r.Next, recording every DW_TAG_subprogram with a concrete low/high PC
// range. r is left positioned after the compile unit's subtree.
func collectFuncs(dw *dwarf.Data, r *dwarf.Reader, u *dwarfUnit) {
	for {
		entry, err := r.Next()
		if err != nil || entry == nil {
			return
		}
		if entry.Tag == 0 {
			return // end of compile unit's children
		}
		if entry.Tag == dwarf.TagSubprogram {
			low, lowOK := entry.Val(dwarf.AttrLowpc).(uint64)
			name, _ := entry.Val(dwarf.AttrName).(string)
			if lowOK && name != "" {
				high := highPC(entry, low)
				u.funcs = append(u.funcs, dwarfFunc{low: low, high: high, name: name})
			}
		}
		if !entry.Children {
			continue
		}
		r.SkipChildren()
	}
}

// highPC resolves DW_AT_high_pc, which DWARF4+ producers may encode as
// either an absolute address or an offset from low_pc.
func highPC(entry *dwarf.Entry, low uint64) uint64 {
	switch v := entry.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		if v < low {
			return low + v
		}
		return v
	case int64:
		return low + uint64(v)
	default:
		return low
	}
}

func collectLines(lr *dwarf.LineReader, u *dwarfUnit) {
	var le dwarf.LineEntry
	for {
		if err := lr.Next(&le); err != nil {
			return
		}
		if le.EndSequence {
			continue
		}
		file := ""
		if le.File != nil {
			file = le.File.Name
		}
		u.lines = append(u.lines, lineEntry{addr: le.Address, file: file, line: le.Line})
	}
}

func (u *dwarfUnit) funcName(off uint64) (string, bool) {
	for _, f := range u.funcs {
		if off >= f.low && off < f.high {
			return f.name, true
		}
	}
	return "", false
}

func (u *dwarfUnit) lineFor(off uint64) (string, int, bool) {
	lo, hi := 0, len(u.lines)
	best := -1
	for lo < hi {
		mid := (lo + hi) / 2
		if u.lines[mid].addr <= off {
			best = mid
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if best < 0 {
		return "", 0, false
	}
	e := u.lines[best]
	return e.file, e.line, true
}
