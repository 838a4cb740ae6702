package telemetry

import (
	"strconv"
	"sync"
	"time"
)

// PublicationStats is a point-in-time view of one publication
type PublicationStats struct {
	StreamID      int32
	SessionID     int32
	Position      int64
	PositionLimit int64
	Connected     bool
}

// PublicationLister provides stats for every open publication
type PublicationLister interface {
	PublicationStats() []PublicationStats
}

// MetricsCollector periodically collects publication stats and updates gauges
type MetricsCollector struct {
	lister   PublicationLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	seen map[[2]string]struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(lister PublicationLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
		seen:     make(map[[2]string]struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.lister == nil {
		return
	}

	stats := mc.lister.PublicationStats()

	mc.mu.Lock()
	defer mc.mu.Unlock()

	current := make(map[[2]string]struct{}, len(stats))
	for _, s := range stats {
		labels := [2]string{
			strconv.FormatInt(int64(s.StreamID), 10),
			strconv.FormatInt(int64(s.SessionID), 10),
		}
		current[labels] = struct{}{}

		PublicationPosition.With(labels[0], labels[1]).Set(float64(s.Position))
		PublicationPositionLimit.With(labels[0], labels[1]).Set(float64(s.PositionLimit))
		connected := 0.0
		if s.Connected {
			connected = 1
		}
		PublicationConnected.With(labels[0], labels[1]).Set(connected)
	}

	// Drop series for publications that have closed since the last pass
	for labels := range mc.seen {
		if _, ok := current[labels]; !ok {
			PublicationPosition.Delete(labels[0], labels[1])
			PublicationPositionLimit.Delete(labels[0], labels[1])
			PublicationConnected.Delete(labels[0], labels[1])
		}
	}
	mc.seen = current
	ActivePublications.Set(float64(len(stats)))
}
