package ledger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewRawWriter(&buf)

	w.WriteVersion(100)
	w.WriteExec("/bin/target")
	w.WritePageInfo(4096, 1024)
	w.WriteImage("/lib/libc.so", 0x1000, 0x2000)
	w.WriteTrace(0xdeadbeef, 0)
	w.WriteAlloc(128, 1, 0x7fff0000)
	w.WriteFree(0x7fff0000)
	w.WriteDuration(42)
	w.WriteRSS(0x100000)
	w.WriteComment("session abc-123")
	w.Flush()

	r := NewRawReader(&buf)

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, KindVersion, rec.Kind)
	assert.EqualValues(t, 100, rec.Version)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindExec, rec.Kind)
	assert.Equal(t, "/bin/target", rec.ExecPath)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindPageInfo, rec.Kind)
	assert.EqualValues(t, 4096, rec.PageSize)
	assert.EqualValues(t, 1024, rec.PhysPages)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindImage, rec.Kind)
	assert.EqualValues(t, 0x1000, rec.ImageStart)
	assert.EqualValues(t, 0x2000, rec.ImageSize)
	assert.Equal(t, "/lib/libc.so", rec.ImageName)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindTrace, rec.Kind)
	assert.EqualValues(t, 0xdeadbeef, rec.IP)
	assert.EqualValues(t, 0, rec.ParentIdx)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindAlloc, rec.Kind)
	assert.EqualValues(t, 128, rec.AllocSize)
	assert.EqualValues(t, 1, rec.StackIndex)
	assert.EqualValues(t, 0x7fff0000, rec.Ptr)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindFree, rec.Kind)
	assert.EqualValues(t, 0x7fff0000, rec.FreePtr)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindDuration, rec.Kind)
	assert.EqualValues(t, 42, rec.DurationMs)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindRSS, rec.Kind)
	assert.EqualValues(t, 0x100000, rec.RSSBytes)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, KindComment, rec.Kind)
	assert.Equal(t, "session abc-123", rec.Comment)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRawReaderSkipsUnknownTags(t *testing.T) {
	r := NewRawReader(bytes.NewBufferString("? garbage line\nv 7\n"))

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, KindVersion, rec.Kind)
	assert.EqualValues(t, 7, rec.Version)
}

func TestRawReaderMalformedKnownTag(t *testing.T) {
	r := NewRawReader(bytes.NewBufferString("t notahex\n"))

	_, err := r.ReadRecord()
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestRawReaderBlankLines(t *testing.T) {
	r := NewRawReader(bytes.NewBufferString("\n\nv 3\n\n"))

	rec, err := r.ReadRecord()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 3, rec.Version)

	rec, err = r.ReadRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}
