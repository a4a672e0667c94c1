package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RSVPAdmissions counts RSVP attempts by response and outcome (accepted|full|rejected).
	RSVPAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_rsvp_admissions_total",
			Help: "Total number of RSVP submissions by outcome",
		},
		[]string{"response", "result"},
	)

	// WaitlistTransitions counts waitlist movements (joined|left|offered|confirmed|expired).
	WaitlistTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_waitlist_transitions_total",
			Help: "Total number of waitlist transitions",
		},
		[]string{"action"},
	)

	// EventTransitions counts stored lifecycle transitions by target state.
	EventTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_event_transitions_total",
			Help: "Total number of event state transitions",
		},
		[]string{"state"},
	)

	// QuotaReservations counts quota gate decisions (reserved|exceeded|rolled_back).
	QuotaReservations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_quota_reservations_total",
			Help: "Total number of quota reservations by outcome",
		},
		[]string{"channel", "result"},
	)

	// NotificationsPublished counts domain events handed to the bus (ok|error).
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_notifications_published_total",
			Help: "Total number of domain events published to the notification bus",
		},
		[]string{"type", "result"},
	)

	// NotificationsRecorded counts notification rows written (created|duplicate).
	NotificationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_notifications_recorded_total",
			Help: "Total number of in-app notifications recorded",
		},
		[]string{"type", "result"},
	)

	// DeliveryAttempts counts per-recipient outbound deliveries (sent|failed).
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_delivery_attempts_total",
			Help: "Total number of outbound message deliveries",
		},
		[]string{"channel", "result"},
	)

	// SweepRuns counts maintenance sweeps by outcome (success|error).
	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_sweep_runs_total",
			Help: "Total number of maintenance sweeps",
		},
		[]string{"result"},
	)

	// HandlerPanics counts recovered handler panics per route.
	HandlerPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convene_http_panics_total",
			Help: "Total number of recovered HTTP handler panics",
		},
		[]string{"path"},
	)

	// RequestsInFlight tracks requests currently being served.
	RequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convene_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convene_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
