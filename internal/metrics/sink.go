package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// It is the union of the per-package MetricsSink interfaces, so one value can
// be handed to every component.
type Sink interface {
	// Trigger pipeline
	TriggerOutcome(outcome string)

	// Delayed queue
	JobOutcome(outcome string)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// Reconciliation sweeper
	SweepCompleted(duration time.Duration, due, failed int)

	// Notification fan-out
	NotificationPublished(kind string)
	NotificationFailed(stage string)

	// Live sessions
	SubscriptionOpened()
	SubscriptionClosed()
	SessionOpened(transport string)
	SessionClosed(transport string)
	MessageDropped()

	// Leader election
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)

	// HTTP API
	HTTPRequest(method, route string, status int, duration time.Duration)
}

// StatusClass constants for the HTTP request metric.
const (
	StatusClass1xx   = "1xx"
	StatusClass2xx   = "2xx"
	StatusClass3xx   = "3xx"
	StatusClass4xx   = "4xx"
	StatusClass5xx   = "5xx"
	StatusClassOther = "other"
)

// ClassifyStatus buckets an HTTP status code so the request metric keeps a
// bounded label set.
func ClassifyStatus(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return StatusClass1xx
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 300 && statusCode < 400:
		return StatusClass3xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500 && statusCode < 600:
		return StatusClass5xx
	default:
		return StatusClassOther
	}
}
