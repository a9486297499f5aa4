// Package testutil provides shared test helpers: a settable clock, an
// in-memory store and a seeded owner to run rules against.
package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const contextTimeout = 5 * time.Second

// Clock is a manually driven clock. Pass Now to WithClock options.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set jumps to t, typically a rule's NextRunAt.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Context returns a context cancelled at the end of the test or after
// contextTimeout, whichever comes first.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), contextTimeout)
	t.Cleanup(cancel)
	return ctx
}

// MustUUID parses s or panics.
func MustUUID(s string) uuid.UUID {
	return uuid.MustParse(s)
}

// Owner is a seeded tenant: numbering settings, one customer with an email
// address, one template and a paid source invoice.
type Owner struct {
	ID       uuid.UUID
	Customer domain.Customer
	Template domain.Template
	Settings domain.CompanySettings
	Source   domain.Document
}

// SeedOwner adds a fresh Owner to store. Invoice numbers start at
// F-<year>-1 and quotes at O-<year>-1.
func SeedOwner(store *MemoryStore) Owner {
	o := Owner{ID: uuid.New()}

	o.Template = domain.Template{
		ID:           uuid.New(),
		OwnerID:      o.ID,
		Name:         "Standaard",
		TemplateJSON: json.RawMessage(`{"schemas":[{"factuurnummer":{"type":"text"},"totaal":{"type":"text"}}]}`),
	}
	store.AddTemplate(o.Template)

	o.Customer = domain.Customer{ID: uuid.New(), OwnerID: o.ID, Name: "Acme BV", Email: "billing@acme.test"}
	store.AddCustomer(o.Customer)

	o.Settings = domain.CompanySettings{
		OwnerID:             o.ID,
		CompanyName:         "Studio",
		InvoiceNumberFormat: "F-{YEAR}-{SEQ}",
		InvoiceNumberPrefix: "F",
		InvoiceNumberNext:   1,
		QuoteNumberFormat:   "O-{YEAR}-{SEQ}",
		QuoteNumberPrefix:   "O",
		QuoteNumberNext:     1,
		PaymentTermsDays:    14,
	}
	store.SetSettings(o.Settings)

	customerID, templateID := o.Customer.ID, o.Template.ID
	o.Source = domain.Document{
		ID:           uuid.New(),
		OwnerID:      o.ID,
		Type:         domain.DocumentTypeInvoice,
		Number:       "F-2023-9",
		CustomerID:   &customerID,
		CustomerName: o.Customer.Name,
		TemplateID:   &templateID,
		LineItems:    json.RawMessage(`[{"description":"Retainer","quantity":1,"unit_price":500}]`),
		Subtotal:     500,
		VATAmount:    105,
		TotalAmount:  605,
		Status:       domain.DocumentStatusPaid,
	}
	store.AddDocument(o.Source)

	return o
}
