package logbuffer

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// Frame header layout, little endian:
//
//	0  frame length (int32, stored last)
//	4  version (uint8)
//	5  flags (uint8)
//	6  type (uint16)
//	8  term offset (int32)
//	12 session id (int32)
//	16 stream id (int32)
//	20 term id (int32)
//	24 reserved value (int64)
const (
	HeaderLength   = 32
	FrameAlignment = 32

	frameLengthFieldOffset = 0
	versionFieldOffset     = 4
	flagsFieldOffset       = 5
	typeFieldOffset        = 6
	termOffsetFieldOffset  = 8
	sessionIDFieldOffset   = 12
	streamIDFieldOffset    = 16
	termIDFieldOffset      = 20
	reservedFieldOffset    = 24

	CurrentVersion    uint8  = 0
	FlagsUnfragmented uint8  = 0xC0
	FrameTypePad      uint16 = 0x00
	FrameTypeData     uint16 = 0x01
)

// AppendFailed is returned by AppendUnfragmented when the term is exhausted
// (or was rotated underneath the caller) and nothing was written.
const AppendFailed int32 = -2

// TermAppender appends frames into one term partition, reserving space with
// an atomic add on that partition's raw tail.
type TermAppender struct {
	term           []byte
	meta           *LogMetadata
	partitionIndex int
}

// NewTermAppender binds an appender to a term buffer and its tail counter.
func NewTermAppender(term []byte, meta *LogMetadata, partitionIndex int) *TermAppender {
	return &TermAppender{term: term, meta: meta, partitionIndex: partitionIndex}
}

// RawTail returns the current packed tail of the partition.
func (a *TermAppender) RawTail() int64 {
	return a.meta.RawTail(a.partitionIndex)
}

// AppendUnfragmented writes parts as a single data frame. It returns the term
// offset just past the frame on success, or AppendFailed when the frame does
// not fit in the remaining space or the tail no longer belongs to termID.
// The caller guarantees the combined length is within the max payload.
func (a *TermAppender) AppendUnfragmented(sessionID, streamID, termID int32, reservedValue int64, parts ...[]byte) int32 {
	length := 0
	for _, p := range parts {
		length += len(p)
	}
	frameLength := int64(length + HeaderLength)
	alignedLength := align(frameLength, FrameAlignment)
	termLength := int64(len(a.term))

	rawTail := a.meta.GetAndAddRawTail(a.partitionIndex, alignedLength)
	termOffset := rawTail & 0xFFFF_FFFF
	if TermID(rawTail) != termID {
		return AppendFailed
	}

	resultingOffset := termOffset + alignedLength
	if resultingOffset > termLength {
		a.handleEndOfLog(termOffset, termLength, sessionID, streamID, termID)
		return AppendFailed
	}

	offset := int(termOffset)
	a.writeHeader(offset, FrameTypeData, FlagsUnfragmented, sessionID, streamID, termID, reservedValue)
	pos := offset + HeaderLength
	for _, p := range parts {
		pos += copy(a.term[pos:], p)
	}
	a.storeFrameLength(offset, int32(frameLength))

	return int32(resultingOffset)
}

// handleEndOfLog pads out the rest of the term so readers skip to the next one.
func (a *TermAppender) handleEndOfLog(termOffset, termLength int64, sessionID, streamID, termID int32) {
	if termLength-termOffset < HeaderLength {
		return
	}
	offset := int(termOffset)
	a.writeHeader(offset, FrameTypePad, FlagsUnfragmented, sessionID, streamID, termID, 0)
	a.storeFrameLength(offset, int32(termLength-termOffset))
}

func (a *TermAppender) writeHeader(offset int, frameType uint16, flags uint8, sessionID, streamID, termID int32, reservedValue int64) {
	h := a.term[offset : offset+HeaderLength]
	h[versionFieldOffset] = CurrentVersion
	h[flagsFieldOffset] = flags
	binary.LittleEndian.PutUint16(h[typeFieldOffset:], frameType)
	binary.LittleEndian.PutUint32(h[termOffsetFieldOffset:], uint32(offset))
	binary.LittleEndian.PutUint32(h[sessionIDFieldOffset:], uint32(sessionID))
	binary.LittleEndian.PutUint32(h[streamIDFieldOffset:], uint32(streamID))
	binary.LittleEndian.PutUint32(h[termIDFieldOffset:], uint32(termID))
	binary.LittleEndian.PutUint64(h[reservedFieldOffset:], uint64(reservedValue))
}

// storeFrameLength publishes the frame; readers that observe a non-zero
// length also observe the header and payload written before it.
func (a *TermAppender) storeFrameLength(offset int, frameLength int32) {
	atomic.StoreInt32((*int32)(unsafe.Pointer(&a.term[offset+frameLengthFieldOffset])), frameLength)
}

// FrameLength reads the frame length at offset with an atomic load; zero
// means no frame has been published there yet.
func FrameLength(term []byte, offset int) int32 {
	return atomic.LoadInt32((*int32)(unsafe.Pointer(&term[offset+frameLengthFieldOffset])))
}

// FrameType returns the type of the frame at offset.
func FrameType(term []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(term[offset+typeFieldOffset:])
}

// FrameTermID returns the term id recorded in the frame at offset.
func FrameTermID(term []byte, offset int) int32 {
	return int32(binary.LittleEndian.Uint32(term[offset+termIDFieldOffset:]))
}

// FrameSessionID returns the session id recorded in the frame at offset.
func FrameSessionID(term []byte, offset int) int32 {
	return int32(binary.LittleEndian.Uint32(term[offset+sessionIDFieldOffset:]))
}
