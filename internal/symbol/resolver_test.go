package symbol

import (
	"testing"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
)

func newTestResolver(t *testing.T, mods ...moduleRange) *Resolver {
	t.Helper()
	cache, err := lru.New[uint64, Location](16)
	if err != nil {
		t.Fatalf("new lru: %v", err)
	}
	r := &Resolver{
		ranges:  btree.NewG(32, rangeLess),
		byPath:  make(map[string]*module),
		cache:   cache,
		unknown: Location{Function: "<unknown>"},
	}
	for _, m := range mods {
		r.ranges.ReplaceOrInsert(m)
	}
	return r
}

func TestResolverFindModule(t *testing.T) {
	libc := &module{start: 0x1000, end: 0x2000}
	app := &module{start: 0x5000, end: 0x6000}
	r := newTestResolver(t,
		moduleRange{start: 0x1000, end: 0x2000, mod: libc},
		moduleRange{start: 0x5000, end: 0x6000, mod: app},
	)

	if got := r.findModule(0x1500); got != libc {
		t.Fatalf("expected libc module for 0x1500, got %+v", got)
	}
	if got := r.findModule(0x5500); got != app {
		t.Fatalf("expected app module for 0x5500, got %+v", got)
	}
	if got := r.findModule(0x3000); got != nil {
		t.Fatalf("expected no module in the gap, got %+v", got)
	}
	if got := r.findModule(0x10); got != nil {
		t.Fatalf("expected no module below every range, got %+v", got)
	}
}

func TestResolverResolveFallsBackToSymtab(t *testing.T) {
	m := &module{
		start:   0x1000,
		end:     0x2000,
		symbols: []elfSymbol{{value: 0x40, size: 0x10, name: "do_work"}},
	}
	r := newTestResolver(t, moduleRange{start: 0x1000, end: 0x2000, mod: m})

	loc, hit := r.Resolve(0x1045) // offset 0x45, inside [0x40,0x50)
	if loc.Function != "do_work" {
		t.Fatalf("got %+v, want do_work", loc)
	}
	if hit {
		t.Fatalf("first resolve of an ip should be a cache miss")
	}

	// cached on second call
	loc2, hit2 := r.Resolve(0x1045)
	if loc2.Function != "do_work" {
		t.Fatalf("cached resolve mismatch: %+v", loc2)
	}
	if !hit2 {
		t.Fatalf("second resolve of the same ip should be a cache hit")
	}
}

func TestResolverResolveUnknown(t *testing.T) {
	r := newTestResolver(t)
	loc, hit := r.Resolve(0xdeadbeef)
	if loc.Function != "<unknown>" {
		t.Fatalf("got %+v, want <unknown>", loc)
	}
	if hit {
		t.Fatalf("first resolve should never be a cache hit")
	}
}

func TestModuleLookupSymtabBoundaries(t *testing.T) {
	m := &module{symbols: []elfSymbol{
		{value: 0x10, size: 0x10, name: "f1"},
		{value: 0x30, size: 0, name: "f2"}, // zero size: open-ended until next symbol
	}}

	if s, ok := m.lookupSymtab(0x15); !ok || s.name != "f1" {
		t.Fatalf("got %+v,%v want f1,true", s, ok)
	}
	if _, ok := m.lookupSymtab(0x20); ok {
		t.Fatalf("0x20 is past f1's sized range, want not found")
	}
	if s, ok := m.lookupSymtab(0x1000); !ok || s.name != "f2" {
		t.Fatalf("zero-size symbol should cover everything after it, got %+v,%v", s, ok)
	}
	if _, ok := m.lookupSymtab(0x5); ok {
		t.Fatalf("address before first symbol should not resolve")
	}
}
