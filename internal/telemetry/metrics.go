package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arbiter_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"method", "path"},
	)

	// EventsTotal counts events received by kind, whatever their outcome.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_events_total",
			Help: "Total number of order events by kind",
		},
		[]string{"kind"},
	)

	// EventsFailedTotal counts events that changed nothing.
	EventsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_events_failed_total",
			Help: "Order events rejected or unrouted, by kind and reason",
		},
		[]string{"kind", "reason"}, // invalid, duplicate, unrouted
	)

	// FillsTotal counts fills by symbol.
	FillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_fills_total",
			Help: "Total number of fills by symbol",
		},
		[]string{"symbol"},
	)

	// FilledVolume counts matched shares by symbol.
	FilledVolume = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_filled_volume_total",
			Help: "Total matched size by symbol",
		},
		[]string{"symbol"},
	)

	// HandleDuration tracks time spent inside the engine per event.
	HandleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "arbiter_handle_duration_seconds",
			Help:    "Time to apply one order event",
			Buckets: []float64{0.0000005, 0.000001, 0.0000025, 0.000005, 0.00001, 0.000025, 0.0001, 0.001},
		},
	)

	// RestingOrders tracks the number of routed resting orders.
	RestingOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbiter_resting_orders",
			Help: "Current number of resting orders across all books",
		},
	)

	// SequencerInboundSeq tracks the current inbound sequence number.
	SequencerInboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbiter_sequencer_inbound_seq",
			Help: "Current inbound sequence number",
		},
	)

	// SequencerOutboundSeq tracks the current outbound sequence number.
	SequencerOutboundSeq = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "arbiter_sequencer_outbound_seq",
			Help: "Current outbound sequence number",
		},
	)

	// SequencerDropped counts results dropped on a full output channel.
	SequencerDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "arbiter_sequencer_dropped_results_total",
			Help: "Results dropped because the output channel was full",
		},
	)

	// PublishedTotal counts fills handed to downstream publishers.
	PublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_published_fills_total",
			Help: "Fills published downstream by sink and status",
		},
		[]string{"sink", "status"},
	)

	// FeedMessagesSkipped counts feed messages that were not order events.
	FeedMessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arbiter_feed_messages_skipped_total",
			Help: "Feed messages skipped by reason",
		},
		[]string{"reason"}, // unhandled_type, malformed
	)
)
