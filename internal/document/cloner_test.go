package document

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/numbering"
)

type fakeStore struct {
	settings  domain.CompanySettings
	usedUntil int // numbers with sequence < usedUntil collide
	inserted  []domain.Document
	runs      []uuid.UUID
	insertErr error
}

func (s *fakeStore) GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error) {
	return s.settings, nil
}

func (s *fakeStore) InsertRunDocument(ctx context.Context, runID uuid.UUID, doc domain.Document) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if s.settings.InvoiceNumberNext < s.usedUntil {
		return domain.ErrDuplicateNumber
	}
	s.inserted = append(s.inserted, doc)
	s.runs = append(s.runs, runID)
	return nil
}

func (s *fakeStore) AdvanceCounter(ctx context.Context, ownerID uuid.UUID, docType domain.DocumentType, from int) (bool, error) {
	if s.settings.InvoiceNumberNext != from {
		return false, nil
	}
	s.settings.InvoiceNumberNext = from + 1
	return true, nil
}

func fixture() (domain.RecurringRule, domain.Document) {
	owner := uuid.New()
	customer := uuid.New()
	source := domain.Document{
		ID:           uuid.New(),
		OwnerID:      owner,
		Type:         domain.DocumentTypeInvoice,
		Number:       "F-2024-1",
		CustomerID:   &customer,
		CustomerName: "Acme",
		LineItems:    json.RawMessage(`[{"description":"Hosting","quantity":1,"unit_price":100}]`),
		Subtotal:     100,
		VATAmount:    21,
		TotalAmount:  121,
		Notes:        "Thanks",
		Status:       domain.DocumentStatusPaid,
	}
	rule := domain.RecurringRule{
		ID:               uuid.New(),
		OwnerID:          owner,
		SourceDocumentID: source.ID,
		Frequency:        domain.Monthly{},
	}
	return rule, source
}

func TestClone_CopiesSourceAndSetsDates(t *testing.T) {
	rule, source := fixture()
	settings := domain.DefaultCompanySettings(rule.OwnerID)
	settings.InvoiceNumberNext = 3
	settings.PaymentTermsDays = 14
	store := &fakeStore{settings: settings}

	c := NewCloner(store, numbering.NewAllocator(store), zerolog.Nop())
	now := time.Date(2025, 2, 10, 15, 30, 0, 0, time.UTC)
	runID := uuid.New()

	doc, err := c.Clone(context.Background(), rule, source, runID, now)
	require.NoError(t, err)

	assert.NotEqual(t, source.ID, doc.ID)
	assert.Equal(t, "F-2025-3", doc.Number)
	assert.Equal(t, domain.DocumentStatusConcept, doc.Status)
	assert.Equal(t, time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC), doc.IssueDate)
	assert.Equal(t, time.Date(2025, 2, 24, 0, 0, 0, 0, time.UTC), doc.DueDate)
	assert.Equal(t, source.CustomerID, doc.CustomerID)
	assert.JSONEq(t, string(source.LineItems), string(doc.LineItems))
	assert.Equal(t, 121.0, doc.TotalAmount)
	require.NotNil(t, doc.SourceDocumentID)
	assert.Equal(t, source.ID, *doc.SourceDocumentID)
	require.NotNil(t, doc.RecurringRuleID)
	assert.Equal(t, rule.ID, *doc.RecurringRuleID)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, runID, store.runs[0])
	assert.Equal(t, 4, store.settings.InvoiceNumberNext)
}

func TestClone_SkipsNumbersAlreadyInUse(t *testing.T) {
	rule, source := fixture()
	settings := domain.DefaultCompanySettings(rule.OwnerID)
	settings.InvoiceNumberNext = 1
	store := &fakeStore{settings: settings, usedUntil: 3}

	c := NewCloner(store, numbering.NewAllocator(store), zerolog.Nop())
	doc, err := c.Clone(context.Background(), rule, source, uuid.New(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "F-2025-3", doc.Number)
	assert.Equal(t, 4, store.settings.InvoiceNumberNext)
}

func TestClone_GivesUpAfterRepeatedCollisions(t *testing.T) {
	rule, source := fixture()
	settings := domain.DefaultCompanySettings(rule.OwnerID)
	store := &fakeStore{settings: settings, usedUntil: 100}

	c := NewCloner(store, numbering.NewAllocator(store), zerolog.Nop())
	_, err := c.Clone(context.Background(), rule, source, uuid.New(), time.Now())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateNumber)
	assert.Empty(t, store.inserted)
	assert.Equal(t, 1+maxNumberAttempts-1, store.settings.InvoiceNumberNext)
}

func TestClone_InsertErrorLeavesCounter(t *testing.T) {
	rule, source := fixture()
	store := &fakeStore{settings: domain.DefaultCompanySettings(rule.OwnerID), insertErr: errors.New("db down")}

	c := NewCloner(store, numbering.NewAllocator(store), zerolog.Nop())
	_, err := c.Clone(context.Background(), rule, source, uuid.New(), time.Now())

	require.Error(t, err)
	assert.Equal(t, 1, store.settings.InvoiceNumberNext)
}

func TestBuild_DefaultsTypeToInvoice(t *testing.T) {
	rule, source := fixture()
	source.Type = ""
	doc := Build(rule, source, domain.DefaultCompanySettings(rule.OwnerID), "X-1", time.Now())
	assert.Equal(t, domain.DocumentTypeInvoice, doc.Type)
	assert.Equal(t, doc.IssueDate.AddDate(0, 0, domain.DefaultPaymentTermsDays), doc.DueDate)
}

type collisionCounter struct{ n int }

func (c *collisionCounter) NumberCollision() { c.n++ }

func TestClone_ReportsCollisions(t *testing.T) {
	rule, source := fixture()
	store := &fakeStore{settings: domain.DefaultCompanySettings(rule.OwnerID), usedUntil: 3}
	counter := &collisionCounter{}

	c := NewCloner(store, numbering.NewAllocator(store), zerolog.Nop()).WithMetrics(counter)
	_, err := c.Clone(context.Background(), rule, source, uuid.New(), time.Now())

	require.NoError(t, err)
	assert.Equal(t, 2, counter.n)
}
