// Package counters holds the 64-bit counter slots shared with the driver,
// such as a publication's position limit and channel status. Each slot sits
// on its own pair of cache lines so a driver update to one counter never
// invalidates the line holding another.
package counters

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// CounterLength is the stride between slots.
const CounterLength = 128

// Channel status values reported through a channel-status counter
const (
	ChannelStatusInitializing int64 = 0
	ChannelStatusErrored      int64 = -1
	ChannelStatusActive       int64 = 1
	ChannelStatusClosing      int64 = 2
)

var (
	ErrCounterOutOfRange = errors.New("counter id out of range")
	ErrNoCounterSpace    = errors.New("no counter space left")
)

// Values is a fixed array of counter slots over a byte buffer, typically a
// mapped file. Allocation is guarded by a mutex; reads and writes of the
// values themselves are atomic and lock-free.
type Values struct {
	buf      []byte
	capacity int32

	mu   sync.Mutex
	next int32
	free []int32
}

// NewValues wraps buf. Its length must be a multiple of CounterLength.
func NewValues(buf []byte) (*Values, error) {
	if len(buf) == 0 || len(buf)%CounterLength != 0 {
		return nil, fmt.Errorf("counter buffer length %d is not a positive multiple of %d", len(buf), CounterLength)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return nil, fmt.Errorf("counter buffer is not 8-byte aligned")
	}
	return &Values{buf: buf, capacity: int32(len(buf) / CounterLength)}, nil
}

// Capacity returns the number of slots.
func (v *Values) Capacity() int32 { return v.capacity }

// Allocate reserves a slot, zeroes it and returns its id.
func (v *Values) Allocate() (int32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var id int32
	if n := len(v.free); n > 0 {
		id = v.free[n-1]
		v.free = v.free[:n-1]
	} else {
		if v.next >= v.capacity {
			return 0, ErrNoCounterSpace
		}
		id = v.next
		v.next++
	}

	atomic.StoreInt64(v.slot(id), 0)
	return id, nil
}

// Free returns a slot to the pool.
func (v *Values) Free(id int32) {
	if id < 0 || id >= v.capacity {
		return
	}
	v.mu.Lock()
	v.free = append(v.free, id)
	v.mu.Unlock()
}

// Get loads the value of a slot.
func (v *Values) Get(id int32) int64 {
	return atomic.LoadInt64(v.slot(id))
}

// Set stores the value of a slot.
func (v *Values) Set(id int32, value int64) {
	atomic.StoreInt64(v.slot(id), value)
}

// Counter returns a handle bound to a single slot.
func (v *Values) Counter(id int32) (*Counter, error) {
	if id < 0 || id >= v.capacity {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrCounterOutOfRange, id, v.capacity)
	}
	return &Counter{id: id, value: v.slot(id)}, nil
}

func (v *Values) slot(id int32) *int64 {
	return (*int64)(unsafe.Pointer(&v.buf[int(id)*CounterLength]))
}

// Counter is a handle on one slot.
type Counter struct {
	id    int32
	value *int64
}

// ID returns the slot id.
func (c *Counter) ID() int32 { return c.id }

// Get loads the counter.
func (c *Counter) Get() int64 { return atomic.LoadInt64(c.value) }

// Set stores the counter.
func (c *Counter) Set(value int64) { atomic.StoreInt64(c.value, value) }

// ProposeMax raises the counter to value if it is currently lower.
func (c *Counter) ProposeMax(value int64) bool {
	for {
		current := atomic.LoadInt64(c.value)
		if value <= current {
			return false
		}
		if atomic.CompareAndSwapInt64(c.value, current, value) {
			return true
		}
	}
}
