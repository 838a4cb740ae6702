package telemetry

// Publication metrics
var (
	// OfferOutcomesTotal counts offers that did not append, by status
	// (admin_action, back_pressured, not_connected, max_position_exceeded, closed)
	OfferOutcomesTotal CounterVec = noopCounterVec{}

	// TermRotationsTotal counts term rotations performed by this client
	TermRotationsTotal Counter = NoopStat{}

	// ActivePublications tracks publications currently open
	ActivePublications Gauge = NoopStat{}

	// PublicationPosition tracks the current stream position per publication
	PublicationPosition GaugeVec = noopGaugeVec{}

	// PublicationPositionLimit tracks the flow-control limit per publication
	PublicationPositionLimit GaugeVec = noopGaugeVec{}

	// PublicationConnected is 1 when the driver reports a live consumer
	PublicationConnected GaugeVec = noopGaugeVec{}
)

// Rate metrics
var (
	// RateMessagesPerSecond is the last message rate reported by the sampler
	RateMessagesPerSecond Gauge = NoopStat{}

	// RateBytesPerSecond is the last byte rate reported by the sampler
	RateBytesPerSecond Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Called by InitializeTelemetry().
func InitMetrics() {
	OfferOutcomesTotal = NewCounterVec(
		"offer_outcomes_total",
		"Offers that did not append a message, by status",
		[]string{"status"},
	)
	TermRotationsTotal = NewCounter(
		"term_rotations_total",
		"Term rotations performed by this client",
	)
	ActivePublications = NewGauge(
		"active_publications",
		"Number of open publications",
	)
	PublicationPosition = NewGaugeVec(
		"publication_position",
		"Current stream position by publication",
		[]string{"stream_id", "session_id"},
	)
	PublicationPositionLimit = NewGaugeVec(
		"publication_position_limit",
		"Flow-control position limit by publication",
		[]string{"stream_id", "session_id"},
	)
	PublicationConnected = NewGaugeVec(
		"publication_connected",
		"Whether the publication has a connected consumer (1=yes, 0=no)",
		[]string{"stream_id", "session_id"},
	)

	RateMessagesPerSecond = NewGauge(
		"rate_messages_per_second",
		"Messages per second observed by the rate sampler",
	)
	RateBytesPerSecond = NewGauge(
		"rate_bytes_per_second",
		"Bytes per second observed by the rate sampler",
	)
}
