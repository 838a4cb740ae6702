package main

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/termlog/publication"
	"github.com/maxpert/termlog/rate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedOfferer replays a fixed sequence of statuses, then succeeds.
type scriptedOfferer struct {
	script   []publication.Status
	position int64
}

func (s *scriptedOfferer) Offer(msg []byte) (publication.Result, error) {
	if len(s.script) > 0 {
		status := s.script[0]
		s.script = s.script[1:]
		if status != publication.StatusOK {
			res := publication.Failure(status)
			return res, res.Err()
		}
	}
	s.position += int64(len(msg))
	return publication.Success(s.position), nil
}

func TestStreamMessagesRetries(t *testing.T) {
	pub := &scriptedOfferer{script: []publication.Status{
		publication.NotConnected,
		publication.StatusOK,
		publication.AdminAction,
		publication.BackPressured,
		publication.BackPressured,
	}}
	reporter := rate.NewReporter(time.Second, func(float64, float64, int64, int64) {})

	stats, err := streamMessages(context.Background(), pub, reporter, 16, 3)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Sent)
	assert.Equal(t, int64(1), stats.AdminActions)
	assert.Equal(t, int64(2), stats.BackPressured)
	assert.Equal(t, int64(1), stats.NotConnected)
	assert.Equal(t, int64(3), reporter.TotalMessages())
	assert.Equal(t, int64(48), reporter.TotalBytes())
}

func TestStreamMessagesStopsOnTerminalStatus(t *testing.T) {
	pub := &scriptedOfferer{script: []publication.Status{
		publication.StatusOK,
		publication.MaxPositionExceeded,
	}}
	reporter := rate.NewReporter(time.Second, func(float64, float64, int64, int64) {})

	stats, err := streamMessages(context.Background(), pub, reporter, 4, 0)
	assert.ErrorIs(t, err, publication.ErrMaxPositionExceeded)
	assert.Equal(t, int64(1), stats.Sent)
}

func TestStreamMessagesHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reporter := rate.NewReporter(time.Second, func(float64, float64, int64, int64) {})

	stats, err := streamMessages(ctx, &scriptedOfferer{}, reporter, 32, 0)
	require.NoError(t, err)
	assert.Zero(t, stats.Sent)
}
