package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the consultation service
type Metrics struct {
	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Consultation Metrics
	consultationsTotal   *prometheus.CounterVec
	statusConflictsTotal prometheus.Counter

	// Room Token Metrics
	roomTokensIssuedTotal *prometheus.CounterVec

	// Push Notification Metrics
	pushNotificationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		consultationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "consultations_total",
				Help:        "Consultation lifecycle events by resulting status",
				ConstLabels: labels,
			},
			[]string{"status"},
		),
		statusConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name:        "consultation_status_conflicts_total",
				Help:        "Transitions rejected because the consultation was already terminal",
				ConstLabels: labels,
			},
		),
		roomTokensIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "room_tokens_issued_total",
				Help:        "Room access tokens issued, by requesting role",
				ConstLabels: labels,
			},
			[]string{"role"},
		),
		pushNotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "push_notifications_total",
				Help:        "Push notifications sent by category and outcome",
				ConstLabels: labels,
			},
			[]string{"category", "outcome"},
		),
	}
}

// RecordHTTPRequest records metrics for a completed HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordConsultationEvent records a consultation reaching the given status
func (m *Metrics) RecordConsultationEvent(status string) {
	m.consultationsTotal.WithLabelValues(status).Inc()
}

// RecordStatusConflict records a rejected transition against a terminal record
func (m *Metrics) RecordStatusConflict() {
	m.statusConflictsTotal.Inc()
}

// RecordRoomTokenIssued records a room token grant
func (m *Metrics) RecordRoomTokenIssued(role string) {
	m.roomTokensIssuedTotal.WithLabelValues(role).Inc()
}

// RecordPushNotification records a push notification attempt
func (m *Metrics) RecordPushNotification(category, outcome string) {
	m.pushNotificationsTotal.WithLabelValues(category, outcome).Inc()
}
