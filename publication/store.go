package publication

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/termlog/encoding"
)

// Key prefixes for Pebble storage
const (
	prefixPubReg = "/pubreg/" // /pubreg/{16-digit-hex-registration-id}
)

var ErrRegistrationNotFound = errors.New("registration not found")

// Registration is the durable record of a live publication. It outlives a
// crashed process so the next conductor on the same directory can reclaim
// the log file and counters it left behind.
type Registration struct {
	RegistrationID         int64  `msgpack:"reg"`
	OriginalRegistrationID int64  `msgpack:"orig"`
	Channel                string `msgpack:"ch"`
	StreamID               int32  `msgpack:"stream"`
	SessionID              int32  `msgpack:"session"`
	TermLength             int32  `msgpack:"term"`
	LogFile                string `msgpack:"file"`
	PositionLimitID        int32  `msgpack:"limit"`
	ChannelStatusID        int32  `msgpack:"status"`
	ClientID               uint64 `msgpack:"client"`
	CreatedAt              int64  `msgpack:"ts"` // Unix millis
}

// RegistrationStore persists registrations in Pebble
type RegistrationStore struct {
	db     *pebble.DB
	path   string
	closed atomic.Bool
}

// OpenRegistrationStore creates or opens the store at path
func OpenRegistrationStore(path string) (*RegistrationStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open registration store at %s: %w", path, err)
	}
	return &RegistrationStore{db: db, path: path}, nil
}

// Put writes or replaces a registration
func (s *RegistrationStore) Put(reg *Registration) error {
	if s.closed.Load() {
		return fmt.Errorf("registration store is closed")
	}

	val, err := encoding.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}
	if err := s.db.Set(formatPubRegKey(reg.RegistrationID), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write registration %d: %w", reg.RegistrationID, err)
	}
	return nil
}

// Get reads one registration
func (s *RegistrationStore) Get(registrationID int64) (*Registration, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("registration store is closed")
	}
	val, closer, err := s.db.Get(formatPubRegKey(registrationID))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("%w: %d", ErrRegistrationNotFound, registrationID)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var reg Registration
	if err := encoding.Unmarshal(val, &reg); err != nil {
		return nil, fmt.Errorf("corrupted registration %d: %w", registrationID, err)
	}
	return &reg, nil
}

// Delete removes a registration; deleting a missing one is not an error
func (s *RegistrationStore) Delete(registrationID int64) error {
	if s.closed.Load() {
		return fmt.Errorf("registration store is closed")
	}
	return s.db.Delete(formatPubRegKey(registrationID), pebble.Sync)
}

// List returns every registration ordered by registration id
func (s *RegistrationStore) List() ([]*Registration, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("registration store is closed")
	}
	prefix := []byte(prefixPubReg)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var regs []*Registration
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var reg Registration
		if err := encoding.Unmarshal(val, &reg); err != nil {
			return nil, fmt.Errorf("corrupted registration at %s: %w", iter.Key(), err)
		}
		regs = append(regs, &reg)
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	return regs, nil
}

// Close closes the underlying database
func (s *RegistrationStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("registration store already closed")
	}
	return s.db.Close()
}

// formatPubRegKey formats a registration key with a fixed-width id so keys
// sort numerically
func formatPubRegKey(registrationID int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixPubReg, uint64(registrationID)))
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil // Prefix is all 0xff
}
