package logbuffer

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

// LogMetaDataLength is the size of the metadata trailer following the terms.
const LogMetaDataLength = 4096

// Metadata field offsets. The tails and the active term count share the
// first cache-line pair written by the publisher; the connection flag and
// end-of-stream position are written by the driver and live on their own
// pair; constants fixed at creation follow.
const (
	termTailCountersOffset     = 0
	activeTermCountOffset      = termTailCountersOffset + PartitionCount*8
	endOfStreamPositionOffset  = 128
	isConnectedOffset          = endOfStreamPositionOffset + 8
	activeTransportCountOffset = isConnectedOffset + 4
	correlationIDOffset        = 256
	initialTermIDOffset        = correlationIDOffset + 8
	mtuLengthOffset            = initialTermIDOffset + 4
	termLengthOffset           = mtuLengthOffset + 4
	pageSizeOffset             = termLengthOffset + 4
)

// LogMetadata is an accessor over the metadata trailer of a mapped log.
// Every read and write goes through sync/atomic; the underlying bytes are
// never handed out.
type LogMetadata struct {
	buf []byte
}

// NewLogMetadata wraps buf, which must be at least LogMetaDataLength bytes
// and 8-byte aligned (mmap regions always are).
func NewLogMetadata(buf []byte) (*LogMetadata, error) {
	if len(buf) < LogMetaDataLength {
		return nil, fmt.Errorf("log metadata buffer too small: %d < %d", len(buf), LogMetaDataLength)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return nil, fmt.Errorf("log metadata buffer is not 8-byte aligned")
	}
	return &LogMetadata{buf: buf[:LogMetaDataLength]}, nil
}

func (m *LogMetadata) int64At(offset int) *int64 {
	return (*int64)(unsafe.Pointer(&m.buf[offset]))
}

func (m *LogMetadata) int32At(offset int) *int32 {
	return (*int32)(unsafe.Pointer(&m.buf[offset]))
}

// RawTail returns the packed (term id, tail offset) for a partition.
func (m *LogMetadata) RawTail(partitionIndex int) int64 {
	return atomic.LoadInt64(m.int64At(termTailCountersOffset + partitionIndex*8))
}

// SetRawTail stores the packed tail for a partition.
func (m *LogMetadata) SetRawTail(partitionIndex int, rawTail int64) {
	atomic.StoreInt64(m.int64At(termTailCountersOffset+partitionIndex*8), rawTail)
}

// CompareAndSetRawTail swaps a partition tail if it still holds expected.
func (m *LogMetadata) CompareAndSetRawTail(partitionIndex int, expected, update int64) bool {
	return atomic.CompareAndSwapInt64(m.int64At(termTailCountersOffset+partitionIndex*8), expected, update)
}

// GetAndAddRawTail reserves delta bytes in a partition and returns the tail before the add.
func (m *LogMetadata) GetAndAddRawTail(partitionIndex int, delta int64) int64 {
	return atomic.AddInt64(m.int64At(termTailCountersOffset+partitionIndex*8), delta) - delta
}

// ActiveTermCount returns the number of rotations since the stream started.
func (m *LogMetadata) ActiveTermCount() int32 {
	return atomic.LoadInt32(m.int32At(activeTermCountOffset))
}

// SetActiveTermCount stores the active term count.
func (m *LogMetadata) SetActiveTermCount(termCount int32) {
	atomic.StoreInt32(m.int32At(activeTermCountOffset), termCount)
}

// CompareAndSetActiveTermCount advances the active term count if it still holds expected.
func (m *LogMetadata) CompareAndSetActiveTermCount(expected, update int32) bool {
	return atomic.CompareAndSwapInt32(m.int32At(activeTermCountOffset), expected, update)
}

// IsConnected reports whether the driver sees at least one live consumer.
func (m *LogMetadata) IsConnected() bool {
	return atomic.LoadInt32(m.int32At(isConnectedOffset)) == 1
}

// SetConnected is written by the driver side.
func (m *LogMetadata) SetConnected(connected bool) {
	var v int32
	if connected {
		v = 1
	}
	atomic.StoreInt32(m.int32At(isConnectedOffset), v)
}

// ActiveTransportCount returns the number of transports the driver is sending on.
func (m *LogMetadata) ActiveTransportCount() int32 {
	return atomic.LoadInt32(m.int32At(activeTransportCountOffset))
}

// SetActiveTransportCount is written by the driver side.
func (m *LogMetadata) SetActiveTransportCount(count int32) {
	atomic.StoreInt32(m.int32At(activeTransportCountOffset), count)
}

// EndOfStreamPosition returns the position at which the stream was closed, or math.MaxInt64.
func (m *LogMetadata) EndOfStreamPosition() int64 {
	return atomic.LoadInt64(m.int64At(endOfStreamPositionOffset))
}

// SetEndOfStreamPosition stores the end-of-stream position.
func (m *LogMetadata) SetEndOfStreamPosition(position int64) {
	atomic.StoreInt64(m.int64At(endOfStreamPositionOffset), position)
}

// CorrelationID returns the registration that created the log.
func (m *LogMetadata) CorrelationID() int64 {
	return atomic.LoadInt64(m.int64At(correlationIDOffset))
}

// InitialTermID returns the term id at stream position zero.
func (m *LogMetadata) InitialTermID() int32 {
	return atomic.LoadInt32(m.int32At(initialTermIDOffset))
}

// MTULength returns the maximum transmission unit recorded for the stream.
func (m *LogMetadata) MTULength() int32 {
	return atomic.LoadInt32(m.int32At(mtuLengthOffset))
}

// TermLength returns the length of each term buffer.
func (m *LogMetadata) TermLength() int32 {
	return atomic.LoadInt32(m.int32At(termLengthOffset))
}

// PageSize returns the page size the log file was aligned to.
func (m *LogMetadata) PageSize() int32 {
	return atomic.LoadInt32(m.int32At(pageSizeOffset))
}

// initialise writes the creation constants and the starting tails. Term 0 is
// active with initialTermID; the other partitions carry the ids they held
// "before" the stream started so the first rotation into them succeeds.
func (m *LogMetadata) initialise(correlationID int64, initialTermID, termLength, pageSize, mtuLength int32) {
	atomic.StoreInt64(m.int64At(correlationIDOffset), correlationID)
	atomic.StoreInt32(m.int32At(initialTermIDOffset), initialTermID)
	atomic.StoreInt32(m.int32At(termLengthOffset), termLength)
	atomic.StoreInt32(m.int32At(pageSizeOffset), pageSize)
	atomic.StoreInt32(m.int32At(mtuLengthOffset), mtuLength)
	m.SetEndOfStreamPosition(math.MaxInt64)

	m.SetRawTail(0, PackTail(initialTermID, 0))
	for i := 1; i < PartitionCount; i++ {
		m.SetRawTail(i, PackTail(initialTermID-PartitionCount+int32(i), 0))
	}
	m.SetActiveTermCount(0)
}

// PackTail builds a raw tail from a term id and offset.
func PackTail(termID, termOffset int32) int64 {
	return int64(termID)<<32 | int64(uint32(termOffset))
}

// TermID extracts the term id from a raw tail.
func TermID(rawTail int64) int32 {
	return int32(rawTail >> 32)
}

// TermOffset extracts the tail offset from a raw tail, capped at termLength
// since reservations may run past the end of an exhausted term.
func TermOffset(rawTail int64, termLength int32) int32 {
	tail := rawTail & 0xFFFF_FFFF
	return int32(min(tail, int64(termLength)))
}
