package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// DefaultPaymentTermsDays applies when an owner has no settings row.
const DefaultPaymentTermsDays = 30

// CompanySettings holds per-owner numbering, payment and email defaults.
type CompanySettings struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	CompanyName string

	InvoiceNumberFormat string
	InvoiceNumberPrefix string
	InvoiceNumberNext   int
	QuoteNumberFormat   string
	QuoteNumberPrefix   string
	QuoteNumberNext     int

	PaymentTermsDays int

	EmailInvoiceSubject string
	EmailInvoiceBody    string
	EmailQuoteSubject   string
	EmailQuoteBody      string
	EmailFromName       string
	EmailReplyTo        string

	// Exists is false when the values are defaults rather than a stored row.
	Exists bool
}

// DefaultCompanySettings returns the values used for owners without a row.
func DefaultCompanySettings(ownerID uuid.UUID) CompanySettings {
	return CompanySettings{
		OwnerID:             ownerID,
		InvoiceNumberFormat: "F-{YEAR}-{SEQ}",
		InvoiceNumberPrefix: "F",
		InvoiceNumberNext:   1,
		QuoteNumberFormat:   "O-{YEAR}-{SEQ}",
		QuoteNumberPrefix:   "O",
		QuoteNumberNext:     1,
		PaymentTermsDays:    DefaultPaymentTermsDays,
	}
}

// NumberingFor returns the format, prefix and next sequence for a document type.
func (s CompanySettings) NumberingFor(t DocumentType) (format, prefix string, next int) {
	if t == DocumentTypeQuote {
		format, prefix, next = s.QuoteNumberFormat, s.QuoteNumberPrefix, s.QuoteNumberNext
		if format == "" {
			format = "O-{YEAR}-{SEQ}"
		}
		if prefix == "" {
			prefix = "O"
		}
	} else {
		format, prefix, next = s.InvoiceNumberFormat, s.InvoiceNumberPrefix, s.InvoiceNumberNext
		if format == "" {
			format = "F-{YEAR}-{SEQ}"
		}
		if prefix == "" {
			prefix = "F"
		}
	}
	if next < 1 {
		next = 1
	}
	return format, prefix, next
}

type Customer struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string
	Email   string
}

type Template struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	TemplateJSON json.RawMessage
}

// ActivityEntry is one line of the audit trail.
type ActivityEntry struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	DocumentID *uuid.UUID
	EntityType string
	EntityID   *uuid.UUID
	Action     string
	Detail     map[string]any
}
