// Package rate samples message and byte throughput without adding
// synchronization to the publishing path.
//
// A single producer calls OnMessage after each successful offer. A separate
// goroutine runs Run, which sleeps for the report interval, loads both
// totals once and hands the rates to a callback. The totals sit between
// cache-line pads so the producer's stores never share a line with the
// sampler's snapshot or with neighbouring memory.
package rate

import (
	"sync/atomic"
	"time"

	"github.com/maxpert/termlog/telemetry"
	"golang.org/x/sys/cpu"
)

// ReportFunc receives the rates for one interval and the cumulative totals.
// It is invoked from the sampler goroutine.
type ReportFunc func(messagesPerSec, bytesPerSec float64, totalMessages, totalBytes int64)

// Option configures a Reporter
type Option func(*Reporter)

// WithClock replaces the wall clock used to measure intervals.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// Reporter aggregates counters from one producer and reports rates
// periodically.
type Reporter struct {
	interval time.Duration
	onReport ReportFunc
	now      func() time.Time

	_             cpu.CacheLinePad
	running       atomic.Bool
	totalBytes    atomic.Int64
	totalMessages atomic.Int64
	_             cpu.CacheLinePad

	// Owned by the sampler goroutine
	lastTotalBytes    int64
	lastTotalMessages int64
	lastTimestamp     time.Time
}

// NewReporter creates a reporter that calls onReport every interval once Run starts.
func NewReporter(interval time.Duration, onReport ReportFunc, opts ...Option) *Reporter {
	r := &Reporter{
		interval: interval,
		onReport: onReport,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.running.Store(true)
	r.lastTimestamp = r.now()
	return r
}

// Run sleeps and reports until Halt is called. The check happens after each
// report, so Halt takes effect once the current sleep ends.
func (r *Reporter) Run() {
	for r.running.Load() {
		time.Sleep(r.interval)
		r.Report()
	}
}

// Start runs the sampling loop on its own goroutine and returns a channel
// closed when the loop exits.
func (r *Reporter) Start() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run()
	}()
	return done
}

// Report computes rates since the previous report and invokes the callback.
func (r *Reporter) Report() {
	totalBytes := r.totalBytes.Load()
	totalMessages := r.totalMessages.Load()
	timestamp := r.now()

	timeSpanSec := timestamp.Sub(r.lastTimestamp).Seconds()
	var messagesPerSec, bytesPerSec float64
	if timeSpanSec > 0 {
		messagesPerSec = float64(totalMessages-r.lastTotalMessages) / timeSpanSec
		bytesPerSec = float64(totalBytes-r.lastTotalBytes) / timeSpanSec
	}

	telemetry.RateMessagesPerSecond.Set(messagesPerSec)
	telemetry.RateBytesPerSecond.Set(bytesPerSec)

	if r.onReport != nil {
		r.onReport(messagesPerSec, bytesPerSec, totalMessages, totalBytes)
	}

	r.lastTotalBytes = totalBytes
	r.lastTotalMessages = totalMessages
	r.lastTimestamp = timestamp
}

// Reset re-baselines the snapshot without reporting. Call it from the
// sampler goroutine or before Run starts.
func (r *Reporter) Reset() {
	r.lastTotalBytes = r.totalBytes.Load()
	r.lastTotalMessages = r.totalMessages.Load()
	r.lastTimestamp = r.now()
}

// Halt asks Run to return after its current sleep. An in-progress report
// is not interrupted.
func (r *Reporter) Halt() {
	r.running.Store(false)
}

// OnMessage adds to the totals. Only one goroutine may call it: each total
// is loaded and stored rather than atomically added, so there is no
// read-modify-write on the hot path.
func (r *Reporter) OnMessage(messages, bytes int64) {
	r.totalBytes.Store(r.totalBytes.Load() + bytes)
	r.totalMessages.Store(r.totalMessages.Load() + messages)
}

// TotalMessages returns the cumulative message count.
func (r *Reporter) TotalMessages() int64 { return r.totalMessages.Load() }

// TotalBytes returns the cumulative byte count.
func (r *Reporter) TotalBytes() int64 { return r.totalBytes.Load() }
