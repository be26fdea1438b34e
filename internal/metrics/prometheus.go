package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.SugaredLogger

	// Trigger pipeline
	triggerOutcomesTotal *prometheus.CounterVec

	// Delayed queue
	jobOutcomesTotal *prometheus.CounterVec
	jobsInFlight     prometheus.Gauge

	// Sweeper
	sweepsTotal        prometheus.Counter
	sweepDueTotal      prometheus.Counter
	sweepFailuresTotal prometheus.Counter
	sweepDuration      prometheus.Histogram

	// Fan-out
	notificationsTotal        *prometheus.CounterVec
	notificationFailuresTotal *prometheus.CounterVec

	// Live sessions
	subscriptions        prometheus.Gauge
	sessions             *prometheus.GaugeVec
	messagesDroppedTotal prometheus.Counter

	// Leader election
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec

	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.SugaredLogger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initPipelineMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initGatewayMetrics(reg)
	s.initLeaderMetrics(reg)
	s.initHTTPMetrics(reg)
	return s
}

func (s *PrometheusSink) initPipelineMetrics(reg prometheus.Registerer) {
	s.triggerOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_trigger_outcomes_total",
		Help: "Total number of trigger attempts by outcome.",
	}, []string{"outcome"})
	s.jobOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_queue_job_outcomes_total",
		Help: "Total number of delayed jobs processed by outcome.",
	}, []string{"outcome"})
	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyalarm_queue_jobs_in_flight",
		Help: "Number of delayed jobs currently being handled.",
	})
	s.sweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyalarm_sweeper_runs_total",
		Help: "Total number of reconciliation sweeps completed.",
	})
	s.sweepDueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyalarm_sweeper_due_alarms_total",
		Help: "Total number of overdue alarms found by the sweeper.",
	})
	s.sweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyalarm_sweeper_failures_total",
		Help: "Total number of alarms the sweeper failed to trigger.",
	})
	s.sweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "easyalarm_sweeper_duration_seconds",
		Help:    "Duration of each reconciliation sweep in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.triggerOutcomesTotal, "easyalarm_trigger_outcomes_total")
	s.register(reg, s.jobOutcomesTotal, "easyalarm_queue_job_outcomes_total")
	s.register(reg, s.jobsInFlight, "easyalarm_queue_jobs_in_flight")
	s.register(reg, s.sweepsTotal, "easyalarm_sweeper_runs_total")
	s.register(reg, s.sweepDueTotal, "easyalarm_sweeper_due_alarms_total")
	s.register(reg, s.sweepFailuresTotal, "easyalarm_sweeper_failures_total")
	s.register(reg, s.sweepDuration, "easyalarm_sweeper_duration_seconds")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_notifications_published_total",
		Help: "Total number of alarm notifications published by alarm kind.",
	}, []string{"kind"})
	s.notificationFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_notification_failures_total",
		Help: "Total number of notification failures by stage.",
	}, []string{"stage"})

	s.register(reg, s.notificationsTotal, "easyalarm_notifications_published_total")
	s.register(reg, s.notificationFailuresTotal, "easyalarm_notification_failures_total")
}

func (s *PrometheusSink) initGatewayMetrics(reg prometheus.Registerer) {
	s.subscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyalarm_stream_subscriptions",
		Help: "Number of open per-owner channel subscriptions.",
	})
	s.sessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "easyalarm_stream_sessions",
		Help: "Number of connected live sessions by transport.",
	}, []string{"transport"})
	s.messagesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyalarm_stream_messages_dropped_total",
		Help: "Total number of live messages dropped for slow consumers.",
	})

	s.register(reg, s.subscriptions, "easyalarm_stream_subscriptions")
	s.register(reg, s.sessions, "easyalarm_stream_sessions")
	s.register(reg, s.messagesDroppedTotal, "easyalarm_stream_messages_dropped_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "easyalarm_leader_status",
		Help: "1 if this instance holds the sweeper lock, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "easyalarm_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_leader_lost_total",
		Help: "Total number of times leadership was lost by reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "easyalarm_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "easyalarm_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "easyalarm_leader_lost_total")
}

func (s *PrometheusSink) initHTTPMetrics(reg prometheus.Registerer) {
	s.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "easyalarm_http_requests_total",
		Help: "Total number of HTTP requests by method, route and status class.",
	}, []string{"method", "route", "status_class"})
	s.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "easyalarm_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	s.register(reg, s.httpRequestsTotal, "easyalarm_http_requests_total")
	s.register(reg, s.httpRequestDuration, "easyalarm_http_request_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warnw("failed to register metric", "metric", name, "error", err)
	}
}

func (s *PrometheusSink) TriggerOutcome(outcome string) {
	s.triggerOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) JobOutcome(outcome string) {
	s.jobOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) SweepCompleted(duration time.Duration, due, failed int) {
	s.sweepsTotal.Inc()
	s.sweepDuration.Observe(duration.Seconds())
	s.sweepDueTotal.Add(float64(due))
	s.sweepFailuresTotal.Add(float64(failed))
}

func (s *PrometheusSink) NotificationPublished(kind string) {
	s.notificationsTotal.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) NotificationFailed(stage string) {
	s.notificationFailuresTotal.WithLabelValues(stage).Inc()
}

func (s *PrometheusSink) SubscriptionOpened() {
	s.subscriptions.Inc()
}

func (s *PrometheusSink) SubscriptionClosed() {
	s.subscriptions.Dec()
}

func (s *PrometheusSink) SessionOpened(transport string) {
	s.sessions.WithLabelValues(transport).Inc()
}

func (s *PrometheusSink) SessionClosed(transport string) {
	s.sessions.WithLabelValues(transport).Dec()
}

func (s *PrometheusSink) MessageDropped() {
	s.messagesDroppedTotal.Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) HTTPRequest(method, route string, status int, duration time.Duration) {
	s.httpRequestsTotal.WithLabelValues(method, route, ClassifyStatus(status)).Inc()
	s.httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
