package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	s := NewNoopSink()

	s.PollStarted()
	s.PollCompleted(time.Second, 5, nil)
	s.PollCompleted(time.Second, 0, errors.New("x"))
	s.RunOutcome("completed", time.Second)
	s.RunsInFlightIncr()
	s.RunsInFlightDecr()
	s.NumberCollision()
	s.RenderOutcome(OutcomeSuccess, time.Second)
	s.SendOutcome("manual", OutcomeSuccess)
	s.StaleRunsUpdate(3)
	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")
}
