package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// MaxRunErrorLength bounds the error message stored on a failed run.
const MaxRunErrorLength = 500

// RecurringRun is one attempted occurrence of a rule, unique per
// (RuleID, ScheduledAt).
type RecurringRun struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	RuleID  uuid.UUID

	ScheduledAt time.Time
	Status      RunStatus
	Attempt     int

	StartedAt   time.Time
	CompletedAt *time.Time

	DocumentID *uuid.UUID
	SendID     *uuid.UUID
	Error      string
}

// TruncateRunError shortens msg to MaxRunErrorLength runes.
func TruncateRunError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxRunErrorLength {
		return msg
	}
	return string(r[:MaxRunErrorLength])
}

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// RunOutcome is what the executor reports for one rule occurrence.
type RunOutcome struct {
	Status OutcomeStatus
	RuleID uuid.UUID
	RunID  uuid.UUID

	ScheduledAt    time.Time
	DocumentID     *uuid.UUID
	DocumentNumber string
	SendID         *uuid.UUID
	AutoSent       bool

	Reason string
}
