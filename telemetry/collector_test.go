package telemetry

import (
	"testing"
	"time"

	"github.com/maxpert/termlog/cfg"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	stats []PublicationStats
}

func (f *fakeLister) PublicationStats() []PublicationStats {
	return f.stats
}

func enableTelemetry(t *testing.T) {
	t.Helper()
	prev := cfg.Config.Prometheus.Enabled
	cfg.Config.Prometheus.Enabled = true
	InitializeTelemetry()
	t.Cleanup(func() {
		cfg.Config.Prometheus.Enabled = prev
		registry = nil
	})
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestNoopWhenDisabled(t *testing.T) {
	registry = nil
	c := NewCounter("unused_total", "unused")
	_, ok := c.(NoopStat)
	assert.True(t, ok)
	assert.Nil(t, GetMetricsHandler())
}

func TestMetricsCollectorUpdatesGauges(t *testing.T) {
	enableTelemetry(t)

	lister := &fakeLister{stats: []PublicationStats{
		{StreamID: 1001, SessionID: 7, Position: 4096, PositionLimit: 8192, Connected: true},
	}}
	mc := NewMetricsCollector(lister, time.Hour)
	mc.collect()

	family := gatherFamily(t, "termlog_client_publication_position")
	require.NotNil(t, family)
	require.Len(t, family.GetMetric(), 1)
	assert.Equal(t, 4096.0, family.GetMetric()[0].GetGauge().GetValue())

	active := gatherFamily(t, "termlog_client_active_publications")
	require.NotNil(t, active)
	assert.Equal(t, 1.0, active.GetMetric()[0].GetGauge().GetValue())

	// Closed publications drop out on the next pass
	lister.stats = nil
	mc.collect()
	family = gatherFamily(t, "termlog_client_publication_position")
	if family != nil {
		assert.Empty(t, family.GetMetric())
	}
}

func TestMetricsCollectorStartStop(t *testing.T) {
	mc := NewMetricsCollector(&fakeLister{}, 10*time.Millisecond)
	mc.Start()
	time.Sleep(25 * time.Millisecond)
	mc.Stop()
}
