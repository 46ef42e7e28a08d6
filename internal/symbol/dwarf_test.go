package symbol

import "testing"

func TestDwarfUnitFuncName(t *testing.T) {
	u := &dwarfUnit{funcs: []dwarfFunc{
		{low: 0x100, high: 0x200, name: "alpha"},
		{low: 0x200, high: 0x300, name: "beta"},
	}}

	if name, ok := u.funcName(0x150); !ok || name != "alpha" {
		t.Fatalf("got %q,%v want alpha,true", name, ok)
	}
	if name, ok := u.funcName(0x2ff); !ok || name != "beta" {
		t.Fatalf("got %q,%v want beta,true", name, ok)
	}
	if _, ok := u.funcName(0x300); ok {
		t.Fatalf("0x300 is past beta's range, want not found")
	}
	if _, ok := u.funcName(0x50); ok {
		t.Fatalf("0x50 precedes every function, want not found")
	}
}

func TestDwarfUnitLineFor(t *testing.T) {
	u := &dwarfUnit{lines: []lineEntry{
		{addr: 0x100, file: "a.c", line: 10},
		{addr: 0x110, file: "a.c", line: 11},
		{addr: 0x120, file: "a.c", line: 15},
	}}

	file, line, ok := u.lineFor(0x115)
	if !ok || file != "a.c" || line != 11 {
		t.Fatalf("got %q,%d,%v want a.c,11,true", file, line, ok)
	}

	if _, _, ok := u.lineFor(0x0f); ok {
		t.Fatalf("address before first row should not resolve")
	}

	file, line, ok = u.lineFor(0x999)
	if !ok || line != 15 {
		t.Fatalf("address past last row should clamp to last entry, got %q,%d,%v", file, line, ok)
	}
}
