package metrics

import "time"

// NoopSink is used when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PollStarted()                                             {}
func (n *NoopSink) PollCompleted(duration time.Duration, due int, err error) {}
func (n *NoopSink) RunOutcome(status string, duration time.Duration)         {}
func (n *NoopSink) RunsInFlightIncr()                                        {}
func (n *NoopSink) RunsInFlightDecr()                                        {}
func (n *NoopSink) NumberCollision()                                         {}
func (n *NoopSink) RenderOutcome(outcome string, duration time.Duration)     {}
func (n *NoopSink) SendOutcome(provider, outcome string)                     {}
func (n *NoopSink) StaleRunsUpdate(count int)                                {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                        {}
func (n *NoopSink) LeaderAcquired()                                          {}
func (n *NoopSink) LeaderLost(reason string)                                 {}
