//go:build unix

package logbuffer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRawLogOptions() RawLogOptions {
	return RawLogOptions{
		TermLength:    64 * 1024,
		PageSize:      4096,
		InitialTermID: 3,
		MTULength:     1408,
		CorrelationID: 77,
		PreTouch:      true,
	}
}

func TestComputeLogLength(t *testing.T) {
	assert.Equal(t, int64(3*64*1024+4096), ComputeLogLength(64*1024, 4096))
	assert.Equal(t, int64(3*64*1024+64*1024), ComputeLogLength(64*1024, 64*1024))
}

func TestCreateRawLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "publications", "77.logbuffer")

	l, err := CreateRawLog(path, testRawLogOptions())
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, ComputeLogLength(64*1024, 4096), info.Size())

	meta := l.Metadata()
	assert.Equal(t, int32(3), meta.InitialTermID())
	assert.Equal(t, int64(77), meta.CorrelationID())
	assert.Equal(t, int32(64*1024), meta.TermLength())
	assert.Equal(t, PackTail(3, 0), meta.RawTail(0))

	for i := 0; i < PartitionCount; i++ {
		assert.Len(t, l.Term(i), 64*1024)
	}
}

func TestCreateRawLogRejectsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.logbuffer")
	l, err := CreateRawLog(path, testRawLogOptions())
	require.NoError(t, err)
	defer l.Close()

	_, err = CreateRawLog(path, testRawLogOptions())
	require.Error(t, err)
}

func TestCreateRawLogRejectsBadTermLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.logbuffer")
	opts := testRawLogOptions()
	opts.TermLength = 1000

	_, err := CreateRawLog(path, opts)
	require.ErrorIs(t, err, ErrInvalidTermLength)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMapRawLogSharesMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.logbuffer")
	writer, err := CreateRawLog(path, testRawLogOptions())
	require.NoError(t, err)
	defer writer.Close()

	reader, err := MapRawLog(path, 64*1024, false)
	require.NoError(t, err)
	defer reader.Close()

	// Driver-side writes through one mapping are visible through the other
	reader.Metadata().SetConnected(true)
	assert.True(t, writer.Metadata().IsConnected())

	appender := NewTermAppender(writer.Term(0), writer.Metadata(), 0)
	result := appender.AppendUnfragmented(1, 2, 3, 0, []byte("shared"))
	require.Greater(t, result, int32(0))
	assert.Equal(t, int32(HeaderLength+6), FrameLength(reader.Term(0), 0))
}

func TestMapRawLogRejectsTermLengthMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mismatch.logbuffer")
	l, err := CreateRawLog(path, testRawLogOptions())
	require.NoError(t, err)
	defer l.Close()

	_, err = MapRawLog(path, 128*1024, false)
	require.Error(t, err)
}

func TestRawLogDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.logbuffer")
	l, err := CreateRawLog(path, testRawLogOptions())
	require.NoError(t, err)

	require.NoError(t, l.Delete())
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Second close is a no-op
	require.NoError(t, l.Close())
}
