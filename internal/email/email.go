// Package email delivers documents to customers.
package email

import (
	"context"
	"html"
	"strings"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const (
	ProviderManual = "manual"
	ProviderResend = "resend"
)

type Message struct {
	To       string
	ToName   string
	Subject  string
	Text     string
	HTML     string
	FromName string
	ReplyTo  string
}

// Result of one send. MessageID is empty for providers without tracking.
type Result struct {
	Provider  string
	MessageID string
	Err       error
}

func (r Result) Delivered() bool { return r.Err == nil }

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) Result
}

// ManualProvider marks documents as sent without delivering anything.
type ManualProvider struct{}

func (ManualProvider) Name() string { return ProviderManual }

func (ManualProvider) Send(ctx context.Context, msg Message) Result {
	return Result{Provider: ProviderManual}
}

// Content is a rendered subject and body.
type Content struct {
	Subject string
	Text    string
	HTML    string
}

const defaultBody = "Dear {CUSTOMER},\n\nPlease find attached {TYPE} {NUMBER}.\n\nKind regards,\n{COMPANY}"

// BuildDocumentEmail fills the owner's subject and body templates for doc.
// Supported placeholders: {NUMBER} {COMPANY} {CUSTOMER} {TOTAL} {DUE_DATE}
// {DATE} {TYPE}.
func BuildDocumentEmail(doc domain.Document, customer *domain.Customer, settings domain.CompanySettings) Content {
	isInvoice := doc.Type != domain.DocumentTypeQuote

	subject, body := settings.EmailQuoteSubject, settings.EmailQuoteBody
	typeName, label := "quote", "Quote"
	if isInvoice {
		subject, body = settings.EmailInvoiceSubject, settings.EmailInvoiceBody
		typeName, label = "invoice", "Invoice"
	}
	if subject == "" {
		subject = label + " {NUMBER} from {COMPANY}"
	}
	if body == "" {
		body = defaultBody
	}

	customerName := ""
	if customer != nil {
		customerName = customer.Name
	}

	r := strings.NewReplacer(
		"{NUMBER}", doc.Number,
		"{COMPANY}", settings.CompanyName,
		"{CUSTOMER}", customerName,
		"{TOTAL}", domain.FormatEuro(doc.TotalAmount),
		"{DUE_DATE}", domain.FormatDate(doc.DueDate),
		"{DATE}", domain.FormatDate(doc.IssueDate),
		"{TYPE}", typeName,
	)
	text := r.Replace(body)

	return Content{
		Subject: r.Replace(subject),
		Text:    text,
		HTML:    toHTML(text),
	}
}

// toHTML escapes each line, since customer and company names reach the
// body verbatim.
func toHTML(text string) string {
	lines := strings.Split(text, "\n")
	parts := make([]string, len(lines))
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			parts[i] = "<br>"
			continue
		}
		parts[i] = "<p>" + html.EscapeString(line) + "</p>"
	}
	return strings.Join(parts, "<br>")
}
