package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const dateLayout = "2006-01-02"

type CreateAutomationRequest struct {
	Name             string `json:"name,omitempty"` // default "Recurring <number>"
	SourceDocumentID string `json:"source_document_id"`
	CustomerID       string `json:"customer_id,omitempty"` // default: the source document's customer
	Frequency        string `json:"frequency,omitempty"`   // default monthly
	DayOfMonth       *int   `json:"day_of_month,omitempty"`
	IntervalDays     *int   `json:"interval_days,omitempty"`
	AutoSend         bool   `json:"auto_send"`

	EndDate        *string `json:"end_date,omitempty"` // YYYY-MM-DD
	MaxOccurrences *int    `json:"max_occurrences,omitempty"`
}

// UpdateAutomationRequest changes only the fields present. An empty
// end_date or a zero max_occurrences removes the limit.
type UpdateAutomationRequest struct {
	Name         *string `json:"name,omitempty"`
	Frequency    *string `json:"frequency,omitempty"`
	DayOfMonth   *int    `json:"day_of_month,omitempty"`
	IntervalDays *int    `json:"interval_days,omitempty"`
	AutoSend     *bool   `json:"auto_send,omitempty"`

	EndDate        *string `json:"end_date,omitempty"`
	MaxOccurrences *int    `json:"max_occurrences,omitempty"`
}

type AutomationResponse struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	SourceDocumentID string  `json:"source_document_id"`
	CustomerID       *string `json:"customer_id,omitempty"`

	Frequency    string `json:"frequency"`
	DayOfMonth   *int   `json:"day_of_month,omitempty"`
	IntervalDays *int   `json:"interval_days,omitempty"`
	AutoSend     bool   `json:"auto_send"`
	IsActive     bool   `json:"is_active"`

	NextRunAt        string  `json:"next_run_at"`
	LastRunAt        *string `json:"last_run_at,omitempty"`
	OccurrencesCount int     `json:"occurrences_count"`
	EndDate          *string `json:"end_date,omitempty"`
	MaxOccurrences   *int    `json:"max_occurrences,omitempty"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	Runs []RunResponse `json:"runs,omitempty"`
}

type RunResponse struct {
	ID          string  `json:"id"`
	RuleID      string  `json:"rule_id"`
	ScheduledAt string  `json:"scheduled_at"`
	Status      string  `json:"status"`
	Attempt     int     `json:"attempt"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	DocumentID  *string `json:"document_id,omitempty"`
	SendID      *string `json:"send_id,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type TriggerResponse struct {
	Status         string  `json:"status"`
	RunID          *string `json:"run_id,omitempty"`
	DocumentID     *string `json:"document_id,omitempty"`
	DocumentNumber string  `json:"document_number,omitempty"`
	AutoSent       bool    `json:"auto_sent"`
	Reason         string  `json:"reason,omitempty"`
}

type ListAutomationsResponse struct {
	Automations []AutomationResponse `json:"automations"`
}

// ListRunsResponse lists run rows, one per claimed slot. A skipped attempt
// creates no row: the slot's row belongs to whoever claimed it, and the skip
// is logged as an automation_skipped activity entry carrying scheduled_at.
type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func optID(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toAutomationResponse(r domain.RecurringRule) AutomationResponse {
	kind, dom, interval := domain.FrequencyColumns(r.Frequency)
	resp := AutomationResponse{
		ID:               r.ID.String(),
		Name:             r.Name,
		SourceDocumentID: r.SourceDocumentID.String(),
		CustomerID:       optID(r.CustomerID),
		Frequency:        kind,
		DayOfMonth:       dom,
		IntervalDays:     interval,
		AutoSend:         r.AutoSend,
		IsActive:         r.IsActive,
		NextRunAt:        formatTime(r.NextRunAt),
		LastRunAt:        optTime(r.LastRunAt),
		OccurrencesCount: r.OccurrencesCount,
		MaxOccurrences:   r.MaxOccurrences,
		CreatedAt:        formatTime(r.CreatedAt),
		UpdatedAt:        formatTime(r.UpdatedAt),
	}
	if r.EndDate != nil {
		s := r.EndDate.UTC().Format(dateLayout)
		resp.EndDate = &s
	}
	return resp
}

func toRunResponse(r domain.RecurringRun) RunResponse {
	return RunResponse{
		ID:          r.ID.String(),
		RuleID:      r.RuleID.String(),
		ScheduledAt: formatTime(r.ScheduledAt),
		Status:      string(r.Status),
		Attempt:     r.Attempt,
		StartedAt:   formatTime(r.StartedAt),
		CompletedAt: optTime(r.CompletedAt),
		DocumentID:  optID(r.DocumentID),
		SendID:      optID(r.SendID),
		Error:       r.Error,
	}
}

// NewTriggerResponse renders a run outcome the way POST .../trigger returns it.
func NewTriggerResponse(o domain.RunOutcome) TriggerResponse {
	resp := TriggerResponse{
		Status:         string(o.Status),
		DocumentID:     optID(o.DocumentID),
		DocumentNumber: o.DocumentNumber,
		AutoSent:       o.AutoSent,
		Reason:         o.Reason,
	}
	if o.RunID != uuid.Nil {
		s := o.RunID.String()
		resp.RunID = &s
	}
	return resp
}
