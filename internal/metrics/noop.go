package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TriggerOutcome(outcome string)                                        {}
func (n *NoopSink) JobOutcome(outcome string)                                            {}
func (n *NoopSink) JobsInFlightIncr()                                                    {}
func (n *NoopSink) JobsInFlightDecr()                                                    {}
func (n *NoopSink) SweepCompleted(duration time.Duration, due, failed int)               {}
func (n *NoopSink) NotificationPublished(kind string)                                    {}
func (n *NoopSink) NotificationFailed(stage string)                                      {}
func (n *NoopSink) SubscriptionOpened()                                                  {}
func (n *NoopSink) SubscriptionClosed()                                                  {}
func (n *NoopSink) SessionOpened(transport string)                                       {}
func (n *NoopSink) SessionClosed(transport string)                                       {}
func (n *NoopSink) MessageDropped()                                                      {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                    {}
func (n *NoopSink) LeaderAcquired()                                                      {}
func (n *NoopSink) LeaderLost(reason string)                                             {}
func (n *NoopSink) HTTPRequest(method, route string, status int, duration time.Duration) {}
