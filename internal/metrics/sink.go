package metrics

import (
	"strings"
	"time"
)

// Sink records engine metrics. Implementations must not block or return
// errors.
type Sink interface {
	// Poll loop
	PollStarted()
	PollCompleted(duration time.Duration, rulesDue int, err error)

	// Executor
	RunOutcome(status string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
	NumberCollision()

	// Dispatch
	RenderOutcome(outcome string, duration time.Duration)
	SendOutcome(provider, outcome string)

	// Stale-run reporter
	StaleRunsUpdate(count int)

	// Leader election
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Step outcomes for RenderOutcome and SendOutcome.
const (
	OutcomeSuccess      = "success"
	OutcomeFailed       = "failed"
	OutcomeCircuitOpen  = "circuit_open"
	OutcomeNotAttempted = "not_attempted"
)

// Error classes for failed steps.
const (
	ErrorClassTimeout    = "timeout"
	ErrorClassConnection = "connection_error"
	ErrorClassOther      = "other_error"
)

// ClassifyError maps a collaborator error to a bounded label value.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return ErrorClassTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"), strings.Contains(msg, "dial"):
		return ErrorClassConnection
	default:
		return ErrorClassOther
	}
}
