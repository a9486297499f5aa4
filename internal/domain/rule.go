package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecurringRule is a standing instruction to regenerate a source document on
// a schedule.
type RecurringRule struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Name             string
	SourceDocumentID uuid.UUID
	CustomerID       *uuid.UUID

	Frequency Frequency
	AutoSend  bool
	IsActive  bool

	NextRunAt        time.Time
	LastRunAt        *time.Time
	OccurrencesCount int

	EndDate        *time.Time // calendar date, UTC midnight
	MaxOccurrences *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RuleCursor is a position in the due-rule ordering (NextRunAt, ID). The
// zero value starts from the beginning.
type RuleCursor struct {
	NextRunAt time.Time
	ID        uuid.UUID
}

func (c RuleCursor) IsZero() bool {
	return c.NextRunAt.IsZero() && c.ID == uuid.Nil
}

// CursorOf returns the cursor positioned at r.
func CursorOf(r RecurringRule) RuleCursor {
	return RuleCursor{NextRunAt: r.NextRunAt, ID: r.ID}
}

// RulePatch is an edit to a rule. Nil fields keep their stored value, so a
// patch never writes scheduling state it was not asked to change.
type RulePatch struct {
	Name      *string
	AutoSend  *bool
	Frequency Frequency
	NextRunAt *time.Time
	IsActive  *bool

	// EndDate and MaxOccurrences are written when their Set flag is true;
	// a nil value then clears the column.
	SetEndDate        bool
	EndDate           *time.Time
	SetMaxOccurrences bool
	MaxOccurrences    *int

	UpdatedAt time.Time
}

// Apply returns r with the patch written over it.
func (p RulePatch) Apply(r RecurringRule) RecurringRule {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.AutoSend != nil {
		r.AutoSend = *p.AutoSend
	}
	if p.Frequency != nil {
		r.Frequency = p.Frequency
	}
	if p.NextRunAt != nil {
		r.NextRunAt = *p.NextRunAt
	}
	if p.IsActive != nil {
		r.IsActive = *p.IsActive
	}
	if p.SetEndDate {
		r.EndDate = p.EndDate
	}
	if p.SetMaxOccurrences {
		r.MaxOccurrences = p.MaxOccurrences
	}
	r.UpdatedAt = p.UpdatedAt
	return r
}
