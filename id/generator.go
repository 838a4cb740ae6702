package id

import (
	"sync/atomic"
	"time"
)

// Bit allocation for registration IDs:
//
//	(physical_ms << 22) | (client_bits << 16) | sequence
//
// The millisecond field keeps IDs roughly time ordered across restarts; the
// client bits keep two clients sharing a directory from colliding within the
// same millisecond.
const (
	SequenceBits   = 16
	ClientBits     = 6
	TotalShiftBits = SequenceBits + ClientBits

	clientMask   = (1 << ClientBits) - 1
	sequenceMask = (1 << SequenceBits) - 1
)

// Generator provides unique, increasing registration IDs.
type Generator interface {
	NextID() int64
}

// ClockGenerator generates IDs from the wall clock. If more than 2^16 IDs
// are requested within a millisecond the sequence borrows from the next
// millisecond, so IDs never repeat or go backwards. Lock-free.
type ClockGenerator struct {
	clientBits int64
	last       atomic.Int64
	now        func() time.Time
}

// NewClockGenerator creates a generator for the given client.
func NewClockGenerator(clientID uint64) *ClockGenerator {
	return &ClockGenerator{
		clientBits: int64(clientID&clientMask) << SequenceBits,
		now:        time.Now,
	}
}

// NextID returns the next registration ID.
func (g *ClockGenerator) NextID() int64 {
	base := g.now().UnixMilli()<<TotalShiftBits | g.clientBits
	for {
		last := g.last.Load()
		next := base
		if next <= last {
			next = last + 1
			if last&sequenceMask == sequenceMask {
				next = (Millis(last)+1)<<TotalShiftBits | g.clientBits
			}
		}
		if g.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Millis extracts the millisecond timestamp an ID was generated at.
func Millis(id int64) int64 {
	return id >> TotalShiftBits
}
