package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics records stream, poller, and dispatcher activity.
type SyncMetrics struct {
	streamConnects   prometheus.Counter
	streamFailures   prometheus.Counter
	stateTransitions *prometheus.CounterVec
	eventsReceived   *prometheus.CounterVec
	payloadsDropped  prometheus.Counter
	pollDuration     prometheus.Histogram
	subscriberPanics prometheus.Counter
}

// NewSyncMetrics registers the sync metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	streamConnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_connects_total",
		Help: "Successful push connection opens.",
	})
	streamFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_failures_total",
		Help: "Push connection errors and connect timeouts.",
	})
	stateTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stream_state_transitions_total",
		Help: "Stream client state transitions.",
	}, []string{"state"})
	eventsReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "update_events_total",
		Help: "Update events accepted by the dispatcher.",
	}, []string{"type"})
	payloadsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payloads_dropped_total",
		Help: "Malformed stream payloads dropped.",
	})
	pollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fallback_poll_duration_seconds",
		Help:    "Duration of fallback full fetches in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	subscriberPanics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_subscriber_panics_total",
		Help: "Subscriber callbacks recovered from panic.",
	})
	reg.MustRegister(
		streamConnects,
		streamFailures,
		stateTransitions,
		eventsReceived,
		payloadsDropped,
		pollDuration,
		subscriberPanics,
	)
	return &SyncMetrics{
		streamConnects:   streamConnects,
		streamFailures:   streamFailures,
		stateTransitions: stateTransitions,
		eventsReceived:   eventsReceived,
		payloadsDropped:  payloadsDropped,
		pollDuration:     pollDuration,
		subscriberPanics: subscriberPanics,
	}
}

// IncStreamConnect counts a successful connection open.
func (m *SyncMetrics) IncStreamConnect() {
	if m == nil || m.streamConnects == nil {
		return
	}
	m.streamConnects.Inc()
}

// IncStreamFailure counts a connection error or connect timeout.
func (m *SyncMetrics) IncStreamFailure() {
	if m == nil || m.streamFailures == nil {
		return
	}
	m.streamFailures.Inc()
}

// IncStateTransition counts entry into the named stream state.
func (m *SyncMetrics) IncStateTransition(state string) {
	if m == nil || m.stateTransitions == nil {
		return
	}
	m.stateTransitions.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncEvent counts an accepted event by type.
func (m *SyncMetrics) IncEvent(eventType string) {
	if m == nil || m.eventsReceived == nil {
		return
	}
	m.eventsReceived.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncPayloadDropped counts a malformed payload.
func (m *SyncMetrics) IncPayloadDropped() {
	if m == nil || m.payloadsDropped == nil {
		return
	}
	m.payloadsDropped.Inc()
}

// ObservePollDuration records the duration of one fallback fetch.
func (m *SyncMetrics) ObservePollDuration(duration time.Duration) {
	if m == nil || m.pollDuration == nil {
		return
	}
	m.pollDuration.Observe(duration.Seconds())
}

// IncSubscriberPanic counts a recovered subscriber panic.
func (m *SyncMetrics) IncSubscriberPanic() {
	if m == nil || m.subscriberPanics == nil {
		return
	}
	m.subscriberPanics.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
