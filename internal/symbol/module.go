package symbol

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// elfSymbol is one STT_FUNC entry from a module's symbol table, the
// fallback source of a function name when DWARF debug info isn't present
// or doesn't cover an address (e.g. library code built without -g).
type elfSymbol struct {
	value uint64
	size  uint64
	name  string
}

// module holds everything the resolver needs to answer lookups against one
// loaded image: its address range (§3 Image), and lazily-initialized debug
// data opened from its file on disk (§4.7: "a per-module debug-info loader
// handle opened from file_path").
type module struct {
	path  string
	start uint64
	end   uint64

	mapped mmap.MMap
	ef     *elf.File
	dw     *dwarf.Data

	symbols []elfSymbol // sorted by value

	dwarfOnce  sync.Once
	dwarfUnits []*dwarfUnit
}

// ensureDWARF lazily flattens the module's line and subprogram tables the
// first time a lookup needs them; most modules in a typical capture (libc,
// other system libraries) are never hit by a resolved frame at all.
func (m *module) ensureDWARF() {
	m.dwarfOnce.Do(func() {
		if m.dw != nil {
			m.dwarfUnits = buildDWARFIndex(m.dw)
		}
	})
}

// openModule mmaps path read-only (github.com/edsrzf/mmap-go — most of a
// profiled binary's bytes, including any bundled source-level debug data,
// are never touched by symbol lookups, so reading the whole file upfront
// would waste memory on a long capture session with many modules) and
// parses its ELF symbol table and, if present, DWARF debug info.
func openModule(path string, start, size uint64) (*module, error) {
	raw, err := mmapFile(path)
	if err != nil {
		return nil, fmt.Errorf("symbol: mmap %s: %w", path, err)
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		raw.Unmap()
		return nil, fmt.Errorf("symbol: parse ELF %s: %w", path, err)
	}

	m := &module{
		path:   path,
		start:  start,
		end:    start + size,
		mapped: raw,
		ef:     ef,
	}

	if syms, err := ef.Symbols(); err == nil {
		m.addSymbols(syms)
	}
	if syms, err := ef.DynamicSymbols(); err == nil {
		m.addSymbols(syms)
	}
	sort.Slice(m.symbols, func(i, j int) bool { return m.symbols[i].value < m.symbols[j].value })

	if dw, err := ef.DWARF(); err == nil {
		m.dw = dw
	}

	return m, nil
}

func (m *module) addSymbols(syms []elf.Symbol) {
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
			continue
		}
		m.symbols = append(m.symbols, elfSymbol{value: s.Value, size: s.Size, name: s.Name})
	}
}

func (m *module) close() {
	if m.mapped != nil {
		_ = m.mapped.Unmap()
	}
	if m.ef != nil {
		_ = m.ef.Close()
	}
}

// fileOffset translates an absolute runtime address into the module's own
// address space, undoing the load slide. Static PIE/shared-object symbol
// and line tables are keyed by link-time (file) addresses, not the
// relocated runtime address the backtrace captured.
func (m *module) fileOffset(ip uint64) uint64 {
	return ip - m.start
}

// lookupSymtab returns the nearest function symbol at or before off whose
// [value, value+size) range contains off, or ok=false if none covers it.
// A symbol with size 0 covers every offset from its value up to the next
// symbol.
func (m *module) lookupSymtab(off uint64) (elfSymbol, bool) {
	i := sort.Search(len(m.symbols), func(i int) bool { return m.symbols[i].value > off })
	if i == 0 {
		return elfSymbol{}, false
	}
	s := m.symbols[i-1]
	if s.size != 0 && off >= s.value+s.size {
		return elfSymbol{}, false
	}
	return s, true
}

// mmapFile maps path read-only for the lifetime of the returned mmap.MMap;
// callers must Unmap it once the module is evicted or the resolver closes.
var mmapFile = func(path string) (mmap.MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mmap.Map(f, mmap.RDONLY, 0)
}
