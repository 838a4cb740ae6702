//go:build unix

package publication

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/termlog/counters"
	"github.com/maxpert/termlog/id"
	"github.com/maxpert/termlog/logbuffer"
	"github.com/maxpert/termlog/notify"
	"github.com/maxpert/termlog/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const channelCacheSize = 256

// Conductor creates publications and releases their resources.
type Conductor interface {
	// AddPublication resolves once the log for channel and streamID is mapped.
	AddPublication(channel string, streamID int32) *future.Future[*Publication]
	// ClosePublication closes p. Closing twice is a no-op.
	ClosePublication(p *Publication) error
}

// ConductorConfig configures a ClientConductor
type ConductorConfig struct {
	LogDir       string // Directory holding publication log files
	CountersPath string
	RegistryPath string

	ClientID        uint64
	TermLength      int32
	PageSize        int32
	MTULength       int32
	PreTouch        bool
	CounterCapacity int32

	// Linger delays unmapping a closed publication so offers racing with
	// Close never touch unmapped memory.
	Linger time.Duration

	// Hub receives lifecycle events; optional.
	Hub *notify.Hub
}

// sharedLog is one log file and its counters, shared by every registration
// of the same channel and stream.
type sharedLog struct {
	key                    string
	channel                string
	streamID               int32
	sessionID              int32
	originalRegistrationID int64
	rawLog                 *logbuffer.MappedRawLog // driver-side mapping
	positionLimitID        int32
	channelStatusID        int32
	refs                   int
}

// ClientConductor is an in-process Conductor. It owns the counters file and
// the registration store for a directory and plays the driver's role in
// creating log files. Pebble locks the registry, so at most one conductor
// runs per directory.
type ClientConductor struct {
	cfg      ConductorConfig
	store    *RegistrationStore
	counters *counters.File
	ids      id.Generator
	channels *lru.Cache[string, ChannelURI]

	publications *xsync.MapOf[int64, *Publication]

	mu        sync.Mutex
	logs      map[string]*sharedLog
	byReg     map[int64]*sharedLog
	lingering map[*logbuffer.MappedRawLog]*lingerEntry
	torndown  bool // counters and registry closed; guarded by mu

	closed atomic.Bool
}

type lingerEntry struct {
	timer   *time.Timer
	release func()
}

// NewClientConductor opens the registry and counters and reclaims anything
// a previous process on the same directory left behind.
func NewClientConductor(cfg ConductorConfig) (*ClientConductor, error) {
	if err := logbuffer.CheckTermLength(cfg.TermLength); err != nil {
		return nil, err
	}
	if err := logbuffer.CheckPageSize(cfg.PageSize); err != nil {
		return nil, err
	}
	if cfg.LogDir == "" || cfg.CountersPath == "" || cfg.RegistryPath == "" {
		return nil, fmt.Errorf("conductor requires log, counters and registry paths")
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	channels, err := lru.New[string, ChannelURI](channelCacheSize)
	if err != nil {
		return nil, err
	}

	store, err := OpenRegistrationStore(cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	ctrs, err := counters.CreateFile(cfg.CountersPath, cfg.CounterCapacity)
	if err != nil {
		store.Close()
		return nil, err
	}

	c := &ClientConductor{
		cfg:          cfg,
		store:        store,
		counters:     ctrs,
		ids:          id.NewClockGenerator(cfg.ClientID),
		channels:     channels,
		publications: xsync.NewMapOf[int64, *Publication](),
		logs:         make(map[string]*sharedLog),
		byReg:        make(map[int64]*sharedLog),
		lingering:    make(map[*logbuffer.MappedRawLog]*lingerEntry),
	}

	if _, err := c.ReclaimOrphans(); err != nil {
		ctrs.Close()
		store.Close()
		return nil, err
	}

	return c, nil
}

// ReclaimOrphans deletes the log files of registrations recorded by a
// previous process and drops their records. It returns how many were found.
func (c *ClientConductor) ReclaimOrphans() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown {
		return 0, ErrConductorClosed
	}

	regs, err := c.store.List()
	if err != nil {
		return 0, fmt.Errorf("failed to list registrations: %w", err)
	}

	reclaimed := 0
	for _, reg := range regs {
		if _, live := c.publications.Load(reg.RegistrationID); live {
			continue
		}
		if err := os.Remove(reg.LogFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", reg.LogFile).Msg("Failed to remove orphaned log file")
		}
		if err := c.store.Delete(reg.RegistrationID); err != nil {
			return reclaimed, fmt.Errorf("failed to delete registration %d: %w", reg.RegistrationID, err)
		}
		reclaimed++
	}

	if reclaimed > 0 {
		log.Info().Int("count", reclaimed).Msg("Reclaimed orphaned publications")
	}
	return reclaimed, nil
}

// AddPublication registers a publication on channel and streamID. Adding a
// channel and stream that already has a live publication shares its log:
// the new publication gets its own registration id but keeps the original
// registration id and session id.
func (c *ClientConductor) AddPublication(channel string, streamID int32) *future.Future[*Publication] {
	p := future.NewPromise[*Publication]()
	go func() {
		pub, err := c.addPublication(channel, streamID)
		p.Set(pub, err)
	}()
	return p.Future()
}

func (c *ClientConductor) addPublication(channel string, streamID int32) (*Publication, error) {
	if c.closed.Load() {
		return nil, ErrConductorClosed
	}

	uri, err := c.resolveChannel(channel)
	if err != nil {
		return nil, err
	}
	termLength := c.cfg.TermLength
	if uri.TermLength != 0 {
		termLength = uri.TermLength
	}

	registrationID := c.ids.NextID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return nil, ErrConductorClosed
	}

	key := fmt.Sprintf("%s/%d", uri.streamKey(), streamID)
	shared, ok := c.logs[key]
	if !ok {
		shared, err = c.createSharedLog(key, uri, streamID, termLength, registrationID)
		if err != nil {
			return nil, err
		}
		c.logs[key] = shared
	} else if shared.rawLog.TermLength() != termLength {
		return nil, fmt.Errorf("%w: term length %d conflicts with live publication using %d",
			ErrInvalidChannel, termLength, shared.rawLog.TermLength())
	}

	pub, err := c.newPublication(shared, registrationID)
	if err != nil {
		if shared.refs == 0 {
			delete(c.logs, key)
			c.releaseSharedLog(shared)
		}
		return nil, err
	}
	shared.refs++
	c.byReg[registrationID] = shared
	c.publications.Store(registrationID, pub)

	c.signal(notify.PublicationAdded, pub)
	log.Info().
		Str("channel", shared.channel).
		Int32("stream_id", streamID).
		Int32("session_id", shared.sessionID).
		Int64("registration_id", registrationID).
		Int64("original_registration_id", shared.originalRegistrationID).
		Msg("Added publication")

	return pub, nil
}

func (c *ClientConductor) resolveChannel(channel string) (ChannelURI, error) {
	if uri, ok := c.channels.Get(channel); ok {
		return uri, nil
	}
	uri, err := ParseChannel(channel)
	if err != nil {
		return ChannelURI{}, err
	}
	c.channels.Add(channel, uri)
	return uri, nil
}

// createSharedLog allocates counters and creates the log file. Caller holds mu.
func (c *ClientConductor) createSharedLog(key string, uri ChannelURI, streamID, termLength int32, registrationID int64) (*sharedLog, error) {
	mtu := c.cfg.MTULength
	if uri.MTULength != 0 {
		mtu = uri.MTULength
	}

	h := xxhash.Sum64String(fmt.Sprintf("%d:%s:%d", c.cfg.ClientID, key, registrationID))
	sessionID := int32(h)
	initialTermID := int32(h >> 32)

	limitID, err := c.counters.Allocate()
	if err != nil {
		return nil, err
	}
	statusID, err := c.counters.Allocate()
	if err != nil {
		c.counters.Free(limitID)
		return nil, err
	}

	path := filepath.Join(c.cfg.LogDir, fmt.Sprintf("%d.logbuffer", registrationID))
	rawLog, err := logbuffer.CreateRawLog(path, logbuffer.RawLogOptions{
		TermLength:    termLength,
		PageSize:      c.cfg.PageSize,
		InitialTermID: initialTermID,
		MTULength:     mtu,
		CorrelationID: registrationID,
		PreTouch:      c.cfg.PreTouch,
	})
	if err != nil {
		c.counters.Free(limitID)
		c.counters.Free(statusID)
		return nil, err
	}
	c.counters.Set(statusID, counters.ChannelStatusActive)

	return &sharedLog{
		key:                    key,
		channel:                uri.String(),
		streamID:               streamID,
		sessionID:              sessionID,
		originalRegistrationID: registrationID,
		rawLog:                 rawLog,
		positionLimitID:        limitID,
		channelStatusID:        statusID,
	}, nil
}

// newPublication maps the shared log for a new registration and records it.
func (c *ClientConductor) newPublication(shared *sharedLog, registrationID int64) (*Publication, error) {
	limit, err := c.counters.Counter(shared.positionLimitID)
	if err != nil {
		return nil, err
	}
	status, err := c.counters.Counter(shared.channelStatusID)
	if err != nil {
		return nil, err
	}

	rawLog, err := logbuffer.MapRawLog(shared.rawLog.Path(), shared.rawLog.TermLength(), c.cfg.PreTouch)
	if err != nil {
		return nil, err
	}

	pub, err := NewPublication(c, Params{
		Channel:                shared.channel,
		StreamID:               shared.streamID,
		SessionID:              shared.sessionID,
		RegistrationID:         registrationID,
		OriginalRegistrationID: shared.originalRegistrationID,
		RawLog:                 rawLog,
		PositionLimit:          limit,
		ChannelStatus:          status,
		OnMaxPosition:          c.onMaxPosition,
	})
	if err != nil {
		rawLog.Close()
		return nil, err
	}

	err = c.store.Put(&Registration{
		RegistrationID:         registrationID,
		OriginalRegistrationID: shared.originalRegistrationID,
		Channel:                shared.channel,
		StreamID:               shared.streamID,
		SessionID:              shared.sessionID,
		TermLength:             shared.rawLog.TermLength(),
		LogFile:                shared.rawLog.Path(),
		PositionLimitID:        shared.positionLimitID,
		ChannelStatusID:        shared.channelStatusID,
		ClientID:               c.cfg.ClientID,
		CreatedAt:              time.Now().UnixMilli(),
	})
	if err != nil {
		rawLog.Close()
		return nil, err
	}

	return pub, nil
}

// ClosePublication marks p closed, removes its registration and schedules
// its mapping for release after the linger period. When the last
// publication on a log closes, the log file is deleted and its counters
// freed.
func (c *ClientConductor) ClosePublication(p *Publication) error {
	if !p.markClosed() {
		return nil
	}

	c.publications.Delete(p.registrationID)

	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		// The shared log was released by Close; only this mapping remains.
		return p.rawLog.Close()
	}
	shared, ok := c.byReg[p.registrationID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("publication %d is not owned by this conductor", p.registrationID)
	}
	delete(c.byReg, p.registrationID)
	shared.refs--
	last := shared.refs == 0
	if last {
		delete(c.logs, shared.key)
		shared.rawLog.Metadata().SetEndOfStreamPosition(p.currentPosition())
		c.counters.Set(shared.channelStatusID, counters.ChannelStatusClosing)
	}
	c.scheduleRelease(p.rawLog, func() {
		if err := p.rawLog.Close(); err != nil {
			log.Warn().Err(err).Int64("registration_id", p.registrationID).Msg("Failed to unmap publication")
		}
		if last {
			c.releaseSharedLog(shared)
		}
	})
	err := c.store.Delete(p.registrationID)
	c.mu.Unlock()

	c.signal(notify.PublicationClosed, p)
	log.Info().
		Str("channel", p.channel).
		Int32("stream_id", p.streamID).
		Int64("registration_id", p.registrationID).
		Bool("last", last).
		Msg("Closed publication")

	return err
}

// releaseSharedLog deletes the log file and frees its counters.
func (c *ClientConductor) releaseSharedLog(shared *sharedLog) {
	if err := shared.rawLog.Delete(); err != nil {
		log.Warn().Err(err).Str("path", shared.rawLog.Path()).Msg("Failed to delete log buffer")
	}
	c.counters.Free(shared.positionLimitID)
	c.counters.Free(shared.channelStatusID)
}

// scheduleRelease runs release after the linger period. Caller holds mu.
func (c *ClientConductor) scheduleRelease(rawLog *logbuffer.MappedRawLog, release func()) {
	if c.cfg.Linger <= 0 {
		release()
		return
	}
	entry := &lingerEntry{release: release}
	entry.timer = time.AfterFunc(c.cfg.Linger, func() {
		c.mu.Lock()
		_, pending := c.lingering[rawLog]
		delete(c.lingering, rawLog)
		c.mu.Unlock()
		if pending {
			release()
		}
	})
	c.lingering[rawLog] = entry
}

func (c *ClientConductor) onMaxPosition(p *Publication) {
	c.signal(notify.MaxPositionReached, p)
}

func (c *ClientConductor) signal(kind notify.EventKind, p *Publication) {
	if c.cfg.Hub == nil {
		return
	}
	c.cfg.Hub.Signal(notify.Event{
		Kind:           kind,
		RegistrationID: p.registrationID,
		Channel:        p.channel,
		StreamID:       p.streamID,
		SessionID:      p.sessionID,
	})
}

// Publication returns the open publication with the given registration id.
func (c *ClientConductor) Publication(registrationID int64) (*Publication, bool) {
	return c.publications.Load(registrationID)
}

// Publications returns every open publication ordered by registration id.
func (c *ClientConductor) Publications() []*Publication {
	pubs := make([]*Publication, 0, c.publications.Size())
	c.publications.Range(func(_ int64, p *Publication) bool {
		pubs = append(pubs, p)
		return true
	})
	slices.SortFunc(pubs, func(a, b *Publication) int {
		switch {
		case a.registrationID < b.registrationID:
			return -1
		case a.registrationID > b.registrationID:
			return 1
		default:
			return 0
		}
	})
	return pubs
}

// PublicationStats implements telemetry.PublicationLister. Publications
// sharing a log report once.
func (c *ClientConductor) PublicationStats() []telemetry.PublicationStats {
	var stats []telemetry.PublicationStats
	for _, p := range c.Publications() {
		if !p.IsOriginal() {
			if _, ok := c.publications.Load(p.originalRegistrationID); ok {
				continue
			}
		}
		position, err := p.Position()
		if err != nil {
			continue
		}
		limit, err := p.PositionLimit()
		if err != nil {
			continue
		}
		stats = append(stats, telemetry.PublicationStats{
			StreamID:      p.streamID,
			SessionID:     p.sessionID,
			Position:      position,
			PositionLimit: limit,
			Connected:     p.IsConnected(),
		})
	}
	return stats
}

// Registration returns the stored record for an open publication.
func (c *ClientConductor) Registration(registrationID int64) (*Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown {
		return nil, ErrConductorClosed
	}
	return c.store.Get(registrationID)
}

// Close closes every open publication, releases lingering mappings
// immediately and closes the counters and registry.
func (c *ClientConductor) Close() error {
	// Setting the flag under mu orders it against addPublication: a creation
	// either completed and is closed below, or observes the flag.
	c.mu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var errs []error
	for _, p := range c.Publications() {
		if err := c.ClosePublication(p); err != nil {
			errs = append(errs, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Entries still in the map have not been released by their timer.
	for rawLog, entry := range c.lingering {
		entry.timer.Stop()
		delete(c.lingering, rawLog)
		entry.release()
	}

	// Logs still referenced belong to publications closed concurrently
	// that have not reached mu yet.
	for key, shared := range c.logs {
		delete(c.logs, key)
		c.releaseSharedLog(shared)
	}
	clear(c.byReg)
	c.torndown = true

	if err := c.counters.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}

	log.Info().Msg("Conductor closed")
	return errors.Join(errs...)
}
