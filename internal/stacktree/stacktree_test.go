package stacktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIdenticalStacksShareIndex(t *testing.T) {
	tr := New()

	var calls int
	onNew := func(ip uint64, parent int) { calls++ }

	i1 := tr.Intern([]uint64{1, 2, 3}, onNew)
	i2 := tr.Intern([]uint64{1, 2, 3}, onNew)

	assert.Equal(t, i1, i2)
	assert.Equal(t, 3, calls)
}

func TestInternDistinctStacksDiffer(t *testing.T) {
	tr := New()
	i1 := tr.Intern([]uint64{1, 2, 3}, nil)
	i2 := tr.Intern([]uint64{1, 2, 4}, nil)
	assert.NotEqual(t, i1, i2)
}

func TestInternSharesCommonPrefix(t *testing.T) {
	tr := New()

	var newNodes []struct {
		ip     uint64
		parent int
	}
	onNew := func(ip uint64, parent int) {
		newNodes = append(newNodes, struct {
			ip     uint64
			parent int
		}{ip, parent})
	}

	leaf1 := tr.Intern([]uint64{10, 20, 30}, onNew)
	require.Len(t, newNodes, 3)

	leaf2 := tr.Intern([]uint64{10, 20, 40}, onNew)
	// Only one new node (the "40" leaf); "10" and "20" are shared.
	require.Len(t, newNodes, 4)
	assert.NotEqual(t, leaf1, leaf2)

	// Parent-before-child: every parent index must already exist by the
	// time it's referenced. Node indices are assigned 1, 2, 3, ... in
	// emission order (0 is the root).
	seen := map[int]bool{0: true}
	for i, n := range newNodes {
		assert.True(t, seen[n.parent], "parent %d not seen before its child", n.parent)
		seen[i+1] = true
	}
}

func TestInternEmptyStackReturnsRoot(t *testing.T) {
	tr := New()
	idx := tr.Intern(nil, nil)
	assert.Equal(t, 0, idx)
}

func TestRootIndexIsZero(t *testing.T) {
	tr := New()
	assert.Equal(t, 1, tr.Len())
	assert.EqualValues(t, 0, tr.IP(0))
}
