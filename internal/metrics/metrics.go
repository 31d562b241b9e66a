package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the automation engine
type Metrics struct {
	// Dispatch counters
	MessagesSentTotal     *prometheus.CounterVec
	MessagesFailedTotal   *prometheus.CounterVec
	MessagesDeferredTotal *prometheus.CounterVec
	MediaSentTotal        prometheus.Counter
	MediaFailedTotal      prometheus.Counter

	// Scheduler
	TickDurationSeconds prometheus.Histogram
	TicksTotal          prometheus.Counter
	DuePositions        prometheus.Gauge

	// Position gauges by status
	Positions *prometheus.GaugeVec

	// Circuit breaker / channel
	BreakerState     prometheus.Gauge // 0=closed 1=open 2=half-open
	ChannelConnected prometheus.Gauge

	// Retry control surface
	ManualRetriesTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapline_messages_sent_total",
				Help: "Total number of successfully dispatched messages",
			},
			[]string{"campaign"},
		),
		MessagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapline_messages_failed_total",
				Help: "Total number of dispatches that exhausted retries",
			},
			[]string{"campaign"},
		),
		MessagesDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapline_messages_deferred_total",
				Help: "Total number of sends deferred by the eligibility gate",
			},
			[]string{"reason"},
		),
		MediaSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zapline_media_sent_total",
				Help: "Total number of media attachments dispatched",
			},
		),
		MediaFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zapline_media_failed_total",
				Help: "Total number of media attachments that failed to dispatch",
			},
		),
		TickDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "zapline_tick_duration_seconds",
				Help:    "Duration of scheduler ticks including pacing sleeps",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "zapline_ticks_total",
				Help: "Total number of scheduler ticks",
			},
		),
		DuePositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zapline_due_positions",
				Help: "Number of positions due at the start of the last tick",
			},
		),
		Positions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zapline_positions",
				Help: "Number of positions by status",
			},
			[]string{"status"},
		),
		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zapline_breaker_state",
				Help: "Dispatch circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
		),
		ChannelConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "zapline_channel_connected",
				Help: "Whether the WhatsApp gateway session is connected",
			},
		),
		ManualRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zapline_manual_retries_total",
				Help: "Total number of retry control operations",
			},
			[]string{"scope"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesSentTotal,
		m.MessagesFailedTotal,
		m.MessagesDeferredTotal,
		m.MediaSentTotal,
		m.MediaFailedTotal,
		m.TickDurationSeconds,
		m.TicksTotal,
		m.DuePositions,
		m.Positions,
		m.BreakerState,
		m.ChannelConnected,
		m.ManualRetriesTotal,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
