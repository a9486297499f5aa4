package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentTypeInvoice DocumentType = "invoice"
	DocumentTypeQuote   DocumentType = "quote"
)

type DocumentStatus string

const (
	DocumentStatusConcept DocumentStatus = "concept"
	DocumentStatusSent    DocumentStatus = "sent"
	DocumentStatusPaid    DocumentStatus = "paid"
)

// Document is an invoice or quote. LineItems is kept as the stored JSON; the
// scheduler copies it without interpreting it.
type Document struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	Type   DocumentType
	Number string

	IssueDate time.Time
	DueDate   time.Time

	CustomerID   *uuid.UUID
	CustomerName string
	TemplateID   *uuid.UUID

	LineItems   json.RawMessage
	Subtotal    float64
	VATAmount   float64
	TotalAmount float64
	Notes       string

	Status      DocumentStatus
	PDFURL      string
	StoragePath string

	SentAt        *time.Time
	LastSentEmail string

	SourceDocumentID *uuid.UUID
	RecurringRuleID  *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifact is a rendered PDF.
type Artifact struct {
	URL         string
	StoragePath string
}

// DocumentSend records one email delivery of a document.
type DocumentSend struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	DocumentID uuid.UUID

	RecipientEmail string
	RecipientName  string
	Subject        string
	BodyText       string

	Provider          string
	ProviderMessageID string
	DeliveryStatus    string

	SentAt time.Time
}
