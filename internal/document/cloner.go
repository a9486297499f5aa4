// Package document builds the documents produced by recurring rules.
package document

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/numbering"
)

// maxNumberAttempts bounds how many in-use numbers are skipped per clone.
const maxNumberAttempts = 5

type Store interface {
	// GetSettings returns the owner's settings, or defaults with
	// Exists=false when the owner has none.
	GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error)
	// InsertRunDocument stores doc and links it to the run in one
	// transaction. It returns domain.ErrDuplicateNumber when the number is
	// already used.
	InsertRunDocument(ctx context.Context, runID uuid.UUID, doc domain.Document) error
}

type Numberer interface {
	Allocate(settings domain.CompanySettings, docType domain.DocumentType, now time.Time) numbering.Allocation
	Commit(ctx context.Context, alloc numbering.Allocation) error
	Skip(ctx context.Context, alloc numbering.Allocation) error
}

// MetricsSink is optional.
type MetricsSink interface {
	NumberCollision()
}

type Cloner struct {
	store   Store
	numbers Numberer
	metrics MetricsSink
	log     zerolog.Logger
}

func NewCloner(store Store, numbers Numberer, log zerolog.Logger) *Cloner {
	return &Cloner{store: store, numbers: numbers, log: log}
}

func (c *Cloner) WithMetrics(sink MetricsSink) *Cloner {
	c.metrics = sink
	return c
}

// Clone creates the document for one run of rule from its source document.
// The counter is advanced only after the document is stored; a failure to
// advance it is logged and repaired by a later clone.
func (c *Cloner) Clone(ctx context.Context, rule domain.RecurringRule, source domain.Document, runID uuid.UUID, now time.Time) (domain.Document, error) {
	docType := source.Type
	if docType == "" {
		docType = domain.DocumentTypeInvoice
	}

	for attempt := 1; ; attempt++ {
		settings, err := c.store.GetSettings(ctx, rule.OwnerID)
		if err != nil {
			return domain.Document{}, errors.Wrap(err, "load company settings")
		}

		alloc := c.numbers.Allocate(settings, docType, now)
		doc := Build(rule, source, settings, alloc.Number, now)

		err = c.store.InsertRunDocument(ctx, runID, doc)
		if errors.Is(err, domain.ErrDuplicateNumber) {
			if c.metrics != nil {
				c.metrics.NumberCollision()
			}
			if attempt >= maxNumberAttempts {
				return domain.Document{}, errors.Wrapf(err, "number %s still in use after %d attempts", alloc.Number, attempt)
			}
			c.log.Warn().
				Str("rule_id", rule.ID.String()).
				Str("number", alloc.Number).
				Msg("document number already in use, advancing counter")
			if err := c.numbers.Skip(ctx, alloc); err != nil {
				return domain.Document{}, errors.Wrap(err, "skip used number")
			}
			continue
		}
		if err != nil {
			return domain.Document{}, errors.Wrap(err, "insert document")
		}

		if err := c.numbers.Commit(ctx, alloc); err != nil {
			c.log.Error().Err(err).
				Str("rule_id", rule.ID.String()).
				Str("document_id", doc.ID.String()).
				Str("number", alloc.Number).
				Msg("document stored but counter not advanced")
		}
		return doc, nil
	}
}

// Build assembles the new document without storing it. Line items, customer,
// template, amounts and notes are copied from source unchanged.
func Build(rule domain.RecurringRule, source domain.Document, settings domain.CompanySettings, number string, now time.Time) domain.Document {
	now = now.UTC()
	issue := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	terms := settings.PaymentTermsDays
	if terms < 0 {
		terms = 0
	}

	docType := source.Type
	if docType == "" {
		docType = domain.DocumentTypeInvoice
	}

	sourceID := source.ID
	ruleID := rule.ID

	return domain.Document{
		ID:      uuid.New(),
		OwnerID: rule.OwnerID,

		Type:   docType,
		Number: number,

		IssueDate: issue,
		DueDate:   issue.AddDate(0, 0, terms),

		CustomerID:   source.CustomerID,
		CustomerName: source.CustomerName,
		TemplateID:   source.TemplateID,

		LineItems:   append([]byte(nil), source.LineItems...),
		Subtotal:    source.Subtotal,
		VATAmount:   source.VATAmount,
		TotalAmount: source.TotalAmount,
		Notes:       source.Notes,

		Status: domain.DocumentStatusConcept,

		SourceDocumentID: &sourceID,
		RecurringRuleID:  &ruleID,

		CreatedAt: now,
		UpdatedAt: now,
	}
}
