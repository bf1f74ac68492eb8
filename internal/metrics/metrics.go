// Package metrics holds the relay's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notification_relay"

// Metrics groups every counter and gauge the relay exposes. Components hold
// a possibly nil *Metrics and check it before recording.
type Metrics struct {
	registry *prometheus.Registry

	CandidatesTotal      prometheus.Counter
	DuplicatesTotal      prometheus.Counter
	FilteredTotal        prometheus.Counter
	CaptureErrors        prometheus.Counter
	ClassifyErrors       prometheus.Counter
	EventsDelivered      prometheus.Counter
	SendFailures         prometheus.Counter
	QueueEvictions       prometheus.Counter
	ReconnectAttempts    prometheus.Counter
	ParseErrors          prometheus.Counter
	InboundMessages      *prometheus.CounterVec
	DismissalsSent       prometheus.Counter
	DismissalsSuppressed prometheus.Counter
	QueueDepth           prometheus.Gauge
	SessionState         prometheus.Gauge
}

// New creates the instruments on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "candidates_total",
			Help: "Candidate events pulled from capture sources",
		}),
		DuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_total",
			Help: "Candidates dropped by the dedup window",
		}),
		FilteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "filtered_total",
			Help: "Candidates dropped by priority or mention filters",
		}),
		CaptureErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "capture_errors_total",
			Help: "Failed capture polls",
		}),
		ClassifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "classification_errors_total",
			Help: "Malformed candidates",
		}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_delivered_total",
			Help: "Relay events written to the remote endpoint",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Failed sends; the event stays queued",
		}),
		QueueEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_evictions_total",
			Help: "Events dropped because the delivery queue was full",
		}),
		ReconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnect_attempts_total",
			Help: "Scheduled reconnection attempts",
		}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "parse_errors_total",
			Help: "Inbound frames that could not be decoded",
		}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_messages_total",
			Help: "Inbound messages by type",
		}, []string{"type"}),
		DismissalsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dismissals_sent_total",
			Help: "Outbound dismiss messages written",
		}),
		DismissalsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "dismissals_suppressed_total",
			Help: "User dismissals dropped because a remote dismiss caused them",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Events waiting in the delivery queue",
		}),
		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_state",
			Help: "Transport state: 0 disconnected, 1 connecting, 2 registered, 3 failed",
		}),
	}
	m.registry.MustRegister(
		m.CandidatesTotal, m.DuplicatesTotal, m.FilteredTotal,
		m.CaptureErrors, m.ClassifyErrors, m.EventsDelivered,
		m.SendFailures, m.QueueEvictions, m.ReconnectAttempts,
		m.ParseErrors, m.InboundMessages, m.DismissalsSent,
		m.DismissalsSuppressed, m.QueueDepth, m.SessionState,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
