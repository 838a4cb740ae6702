package logbuffer

import (
	"errors"
	"fmt"
	"math/bits"
)

// Term buffer sizing constants
const (
	PartitionCount = 3

	TermMinLength = 64 * 1024
	TermMaxLength = 1024 * 1024 * 1024

	PageMinSize = 4 * 1024
	PageMaxSize = 1024 * 1024 * 1024

	// maxMessageCap bounds MaxMessageLength for very large terms
	maxMessageCap = 16 * 1024 * 1024
)

var (
	// ErrInvalidTermLength is returned for term lengths outside range or not a power of two
	ErrInvalidTermLength = errors.New("invalid term length")
	// ErrInvalidPageSize is returned for page sizes outside range or not a power of two
	ErrInvalidPageSize = errors.New("invalid page size")
)

// CheckTermLength validates a term buffer length.
func CheckTermLength(termLength int32) error {
	if termLength < TermMinLength || termLength > TermMaxLength {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTermLength, termLength, TermMinLength, TermMaxLength)
	}
	if !isPowerOfTwo(int64(termLength)) {
		return fmt.Errorf("%w: %d is not a power of two", ErrInvalidTermLength, termLength)
	}
	return nil
}

// CheckPageSize validates a file page size.
func CheckPageSize(pageSize int32) error {
	if pageSize < PageMinSize || pageSize > PageMaxSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPageSize, pageSize, PageMinSize, PageMaxSize)
	}
	if !isPowerOfTwo(int64(pageSize)) {
		return fmt.Errorf("%w: %d is not a power of two", ErrInvalidPageSize, pageSize)
	}
	return nil
}

// PositionBitsToShift returns log2(termLength).
func PositionBitsToShift(termLength int32) int {
	return bits.TrailingZeros32(uint32(termLength))
}

// MaxPossiblePosition is the first position that can no longer be encoded
// for a stream with the given term length.
func MaxPossiblePosition(termLength int32) int64 {
	return int64(termLength) << 31
}

// MaxMessageLength is the largest frame, header included, a single offer may append.
func MaxMessageLength(termLength int32) int32 {
	return min(termLength/8, maxMessageCap)
}

// IndexByTermCount maps a term count onto one of the rotating partitions.
func IndexByTermCount(termCount int32) int {
	return int(uint32(termCount) % PartitionCount)
}

// PositionCodec translates between stream positions and
// (term id, term count, term offset) triples. It is immutable and safe to
// share between goroutines.
type PositionCodec struct {
	positionBitsToShift int
	termLength          int32
	initialTermID       int32
}

// NewPositionCodec builds a codec for a publication. termLength must already
// have passed CheckTermLength.
func NewPositionCodec(termLength, initialTermID int32) PositionCodec {
	return PositionCodec{
		positionBitsToShift: PositionBitsToShift(termLength),
		termLength:          termLength,
		initialTermID:       initialTermID,
	}
}

// PositionBitsToShift returns the shift applied to the term count.
func (c PositionCodec) PositionBitsToShift() int { return c.positionBitsToShift }

// TermLength returns the term buffer length.
func (c PositionCodec) TermLength() int32 { return c.termLength }

// InitialTermID returns the term id at stream position zero.
func (c PositionCodec) InitialTermID() int32 { return c.initialTermID }

// Encode combines a term count and offset into a stream position.
func (c PositionCodec) Encode(termCount, termOffset int32) int64 {
	return int64(termCount)<<c.positionBitsToShift | int64(termOffset)
}

// Decode splits a stream position into its term count and term offset.
func (c PositionCodec) Decode(position int64) (termCount, termOffset int32) {
	termCount = int32(position >> c.positionBitsToShift)
	termOffset = int32(position & int64(c.termLength-1))
	return termCount, termOffset
}

// TermID returns the term id active after termCount rotations. Wraps like int32.
func (c PositionCodec) TermID(termCount int32) int32 {
	return c.initialTermID + termCount
}

// TermCount returns the number of rotations needed to reach termID.
func (c PositionCodec) TermCount(termID int32) int32 {
	return termID - c.initialTermID
}

// ComputePosition returns the stream position of termOffset within termID.
func (c PositionCodec) ComputePosition(termID, termOffset int32) int64 {
	return c.Encode(c.TermCount(termID), termOffset)
}

// TermBeginPosition returns the stream position of the first byte of termID.
func (c PositionCodec) TermBeginPosition(termID int32) int64 {
	return c.Encode(c.TermCount(termID), 0)
}

func isPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

func align(value, alignment int64) int64 {
	return (value + alignment - 1) &^ (alignment - 1)
}
