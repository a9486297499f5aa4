// Package activity writes the per-owner audit trail.
package activity

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

// Entity types.
const (
	EntityAutomation = "automation"
	EntityDocument   = "document"
)

// Actions written by the automation engine.
const (
	ActionCreated          = "created"
	ActionDeleted          = "deleted"
	ActionPaused           = "paused"
	ActionResumed          = "resumed"
	ActionAutomationCloned = "automation_cloned"
	ActionAutomationRan    = "automation_ran"
	ActionAutomationFailed = "automation_failed"
	ActionSkipped          = "automation_skipped"
	ActionSent             = "sent"
)

type Store interface {
	InsertActivity(ctx context.Context, entry domain.ActivityEntry) error
}

// Recorder writes activity entries. Record returns the storage error so the
// caller decides to ignore it; the failure is already logged.
type Recorder struct {
	store Store
	log   zerolog.Logger
}

func NewRecorder(store Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

func (r *Recorder) Record(ctx context.Context, entry domain.ActivityEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Detail == nil {
		entry.Detail = map[string]any{}
	}
	if err := r.store.InsertActivity(ctx, entry); err != nil {
		r.log.Warn().Err(err).
			Str("action", entry.Action).
			Str("entity_type", entry.EntityType).
			Msg("failed to record activity")
		return errors.Wrap(err, "record activity")
	}
	return nil
}

// Entry is a convenience constructor for entries about a rule.
func Entry(ownerID uuid.UUID, documentID *uuid.UUID, entityType string, entityID uuid.UUID, action string, detail map[string]any) domain.ActivityEntry {
	id := entityID
	return domain.ActivityEntry{
		OwnerID:    ownerID,
		DocumentID: documentID,
		EntityType: entityType,
		EntityID:   &id,
		Action:     action,
		Detail:     detail,
	}
}
