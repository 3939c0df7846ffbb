package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.RealtimeMetrics and the HTTP request
// metrics on top of a prometheus registerer.
type PrometheusCollector struct {
	// Sessions
	sessionsActive *prometheus.GaugeVec
	sessionsTotal  *prometheus.CounterVec
	subscriptions  prometheus.Gauge
	authOutcomes   *prometheus.CounterVec
	slowConsumers  prometheus.Counter

	// Routing
	framesReceived  *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliveryFanout  *prometheus.HistogramVec
	droppedMessages *prometheus.CounterVec
	notifQueued     prometheus.Counter
	notifDropped    *prometheus.CounterVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewPrometheusCollector registers the collectors on reg. A nil reg uses the
// default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arenalink_sessions_active",
			Help: "Number of open STOMP sessions",
		}, []string{"authenticated"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_sessions_total",
			Help: "Total number of STOMP sessions opened",
		}, []string{"authenticated"}),

		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arenalink_subscriptions_active",
			Help: "Number of active subscriptions across all sessions",
		}),

		authOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_auth_outcomes_total",
			Help: "CONNECT authentication outcomes",
		}, []string{"outcome"}),

		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Name: "arenalink_slow_consumers_total",
			Help: "Sessions closed because their outbox overflowed",
		}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_frames_received_total",
			Help: "Inbound STOMP frames by command",
		}, []string{"command"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_messages_delivered_total",
			Help: "MESSAGE frames enqueued to sessions by destination kind",
		}, []string{"kind"}),

		deliveryFanout: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arenalink_delivery_fanout_sessions",
			Help:    "Number of sessions reached by one routed message",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		}, []string{"kind"}),

		droppedMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_messages_dropped_total",
			Help: "Routed messages that reached no session",
		}, []string{"kind"}),

		notifQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "arenalink_notifications_queued_total",
			Help: "Notification events accepted for fan-out",
		}),

		notifDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_notifications_dropped_total",
			Help: "Notification events dropped before delivery",
		}, []string{"reason"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arenalink_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arenalink_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route"}),
	}
}

func authLabel(authenticated bool) string {
	return strconv.FormatBool(authenticated)
}

func (p *PrometheusCollector) SessionOpened(authenticated bool) {
	p.sessionsActive.WithLabelValues(authLabel(authenticated)).Inc()
	p.sessionsTotal.WithLabelValues(authLabel(authenticated)).Inc()
}

func (p *PrometheusCollector) SessionClosed(authenticated bool) {
	p.sessionsActive.WithLabelValues(authLabel(authenticated)).Dec()
}

func (p *PrometheusCollector) SubscriptionsChanged(delta int) {
	p.subscriptions.Add(float64(delta))
}

func (p *PrometheusCollector) FrameReceived(command string) {
	p.framesReceived.WithLabelValues(command).Inc()
}

func (p *PrometheusCollector) AuthOutcome(outcome string) {
	p.authOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) Delivered(kind string, sessions int) {
	p.deliveries.WithLabelValues(kind).Add(float64(sessions))
	p.deliveryFanout.WithLabelValues(kind).Observe(float64(sessions))
}

func (p *PrometheusCollector) Dropped(kind string) {
	p.droppedMessages.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) SlowConsumer() {
	p.slowConsumers.Inc()
}

func (p *PrometheusCollector) NotificationQueued() {
	p.notifQueued.Inc()
}

func (p *PrometheusCollector) NotificationDropped(reason string) {
	p.notifDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
