package logbuffer

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetadata(t *testing.T, initialTermID, termLength int32) *LogMetadata {
	t.Helper()
	meta, err := NewLogMetadata(make([]byte, LogMetaDataLength))
	require.NoError(t, err)
	meta.initialise(42, initialTermID, termLength, 4096, 1408)
	return meta
}

func TestNewLogMetadataRejectsShortBuffer(t *testing.T) {
	_, err := NewLogMetadata(make([]byte, LogMetaDataLength-1))
	require.Error(t, err)
}

func TestLogMetadataInitialise(t *testing.T) {
	meta := newTestMetadata(t, 5, 64*1024)

	assert.Equal(t, int64(42), meta.CorrelationID())
	assert.Equal(t, int32(5), meta.InitialTermID())
	assert.Equal(t, int32(64*1024), meta.TermLength())
	assert.Equal(t, int32(4096), meta.PageSize())
	assert.Equal(t, int32(1408), meta.MTULength())
	assert.Equal(t, int64(math.MaxInt64), meta.EndOfStreamPosition())
	assert.Equal(t, int32(0), meta.ActiveTermCount())
	assert.False(t, meta.IsConnected())

	assert.Equal(t, PackTail(5, 0), meta.RawTail(0))
	assert.Equal(t, int32(3), TermID(meta.RawTail(1)))
	assert.Equal(t, int32(4), TermID(meta.RawTail(2)))
}

func TestLogMetadataConnectionFlag(t *testing.T) {
	meta := newTestMetadata(t, 0, 64*1024)

	meta.SetConnected(true)
	assert.True(t, meta.IsConnected())
	meta.SetConnected(false)
	assert.False(t, meta.IsConnected())
}

func TestRawTailPacking(t *testing.T) {
	raw := PackTail(-7, 1024)
	assert.Equal(t, int32(-7), TermID(raw))
	assert.Equal(t, int32(1024), TermOffset(raw, 64*1024))

	// Reservations past the end are capped at the term length
	over := PackTail(3, 64*1024+512)
	assert.Equal(t, int32(64*1024), TermOffset(over, 64*1024))
}

func TestGetAndAddRawTail(t *testing.T) {
	meta := newTestMetadata(t, 0, 64*1024)

	before := meta.GetAndAddRawTail(0, 64)
	assert.Equal(t, PackTail(0, 0), before)
	assert.Equal(t, PackTail(0, 64), meta.RawTail(0))
}

func TestRotateLog(t *testing.T) {
	meta := newTestMetadata(t, 0, 64*1024)
	meta.SetRawTail(0, PackTail(0, 65530))

	nextTermID, rotated := RotateLog(meta, 0, 0)
	require.True(t, rotated)
	assert.Equal(t, int32(1), nextTermID)
	assert.Equal(t, int32(1), meta.ActiveTermCount())
	assert.Equal(t, PackTail(1, 0), meta.RawTail(1))
}

func TestRotateLogIsIdempotent(t *testing.T) {
	meta := newTestMetadata(t, 0, 64*1024)

	first, rotated := RotateLog(meta, 0, 0)
	require.True(t, rotated)

	second, rotatedAgain := RotateLog(meta, 0, 0)
	assert.False(t, rotatedAgain)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), meta.ActiveTermCount())
	assert.Equal(t, PackTail(1, 0), meta.RawTail(1))
}

func TestRotateLogCyclesPartitions(t *testing.T) {
	meta := newTestMetadata(t, 10, 64*1024)

	termID := int32(10)
	for termCount := int32(0); termCount < 7; termCount++ {
		next, rotated := RotateLog(meta, termCount, termID)
		require.True(t, rotated, "rotation %d", termCount)
		termID = next

		index := IndexByTermCount(termCount + 1)
		assert.Equal(t, termID, TermID(meta.RawTail(index)))
		assert.Equal(t, int32(0), TermOffset(meta.RawTail(index), 64*1024))
	}
	assert.Equal(t, int32(7), meta.ActiveTermCount())
	assert.Equal(t, int32(17), termID)
}

func TestRotateLogConcurrentCallersRotateOnce(t *testing.T) {
	meta := newTestMetadata(t, 0, 64*1024)

	const goroutines = 16
	var rotations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, rotated := RotateLog(meta, 0, 0); rotated {
				rotations.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), rotations.Load())
	assert.Equal(t, int32(1), meta.ActiveTermCount())
	assert.Equal(t, int32(1), TermID(meta.RawTail(1)))
}
