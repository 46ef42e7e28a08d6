package backtrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReverse(t *testing.T) {
	in := []uint64{1, 2, 3}
	out := Reverse(in)
	assert.Equal(t, []uint64{3, 2, 1}, out)
	// original untouched
	assert.Equal(t, []uint64{1, 2, 3}, in)
}

func TestReverseEmpty(t *testing.T) {
	assert.Empty(t, Reverse(nil))
}
