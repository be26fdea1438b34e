package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.TriggerOutcome("rescheduled")
	s.JobOutcome("completed")
	s.JobsInFlightIncr()
	s.JobsInFlightDecr()
	s.SweepCompleted(time.Second, 2, 0)

	s.NotificationPublished("recurring")
	s.NotificationFailed("publish")

	s.SubscriptionOpened()
	s.SubscriptionClosed()
	s.SessionOpened("sse")
	s.SessionClosed("sse")
	s.MessageDropped()

	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")

	s.HTTPRequest("GET", "/health", 200, time.Millisecond)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
