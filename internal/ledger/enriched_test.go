package ledger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrichedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewEnrichedWriter(&buf)

	require.NoError(t, w.WriteVersion(100, 3))
	require.NoError(t, w.WriteString(0, "/bin/target"))
	require.NoError(t, w.WriteInstruction(0xdeadbeef, 0, []Frame{{Kind: FrameSingle, FunctionID: 1}}))
	require.NoError(t, w.WriteTrace(0, 0))
	require.NoError(t, w.WriteAlloc(128, 0))
	require.NoError(t, w.WriteFree(0))
	require.NoError(t, w.WriteDuration(42))
	require.NoError(t, w.WriteRSS(0x100000))
	require.NoError(t, w.Flush())

	r := NewEnrichedReader(&buf)

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, EKindVersion, rec.Kind)
	assert.EqualValues(t, 100, rec.Version)
	assert.EqualValues(t, 3, rec.FileVersion)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindString, rec.Kind)
	assert.Equal(t, "/bin/target", rec.StringValue)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindInstruction, rec.Kind)
	assert.EqualValues(t, 0xdeadbeef, rec.IP)
	require.Len(t, rec.Frames, 1)
	assert.Equal(t, FrameSingle, rec.Frames[0].Kind)
	assert.Equal(t, 1, rec.Frames[0].FunctionID)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindTrace, rec.Kind)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindAlloc, rec.Kind)
	assert.EqualValues(t, 128, rec.AllocSize)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindFree, rec.Kind)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindDuration, rec.Kind)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, EKindRSS, rec.Kind)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestEnrichedInstructionWithInlinedFrames(t *testing.T) {
	var buf bytes.Buffer
	w := NewEnrichedWriter(&buf)

	require.NoError(t, w.WriteInstruction(0x1000, 2, []Frame{
		{Kind: FrameWithLine, FunctionID: 5, FileID: 1, Line: 10},
		{Kind: FrameWithLine, FunctionID: 6, FileID: 1, Line: 20},
	}))

	r := NewEnrichedReader(&buf)
	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.Len(t, rec.Frames, 2)
	assert.Equal(t, FrameWithLine, rec.Frames[0].Kind)
	assert.EqualValues(t, 10, rec.Frames[0].Line)
	assert.EqualValues(t, 20, rec.Frames[1].Line)
}

func TestEnrichedInstructionRequiresAFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewEnrichedWriter(&buf)
	assert.Error(t, w.WriteInstruction(0x1, 0, nil))
}
