// Package dispatch renders a freshly cloned document and, when the rule asks
// for it, emails it to the customer. Both steps are best effort: failures
// are reported in Result and never fail the run.
package dispatch

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/activity"
	"github.com/djlord-it/easy-invoice/internal/circuitbreaker"
	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/email"
	"github.com/djlord-it/easy-invoice/internal/metrics"
	"github.com/djlord-it/easy-invoice/internal/render"
)

// ErrNoTemplate means the document has no resolvable template, so nothing
// was rendered.
var ErrNoTemplate = errors.New("document has no template")

const (
	breakerKeyRender = "render"
	deliveryStatus   = "sent"
)

type Store interface {
	GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error)
	GetTemplate(ctx context.Context, ownerID, templateID uuid.UUID) (domain.Template, error)
	GetCustomer(ctx context.Context, ownerID, customerID uuid.UUID) (domain.Customer, error)
	UpdateDocumentArtifact(ctx context.Context, ownerID, documentID uuid.UUID, art domain.Artifact, status domain.DocumentStatus) error
	InsertSend(ctx context.Context, send domain.DocumentSend) error
	MarkDocumentSent(ctx context.Context, ownerID, documentID uuid.UUID, sentAt time.Time, recipient string) error
}

type Renderer interface {
	Render(ctx context.Context, req render.Request) (domain.Artifact, error)
}

type ActivityRecorder interface {
	Record(ctx context.Context, entry domain.ActivityEntry) error
}

type MetricsSink interface {
	RenderOutcome(outcome string, duration time.Duration)
	SendOutcome(provider, outcome string)
}

type Request struct {
	Rule     domain.RecurringRule
	Document domain.Document
	Now      time.Time
}

// Result carries the document as updated by the steps that succeeded.
// Artifact is nil when no PDF exists; Send is nil when nothing was sent.
// Send is set whenever the provider accepted the email, even when SendErr
// reports that recording it failed.
type Result struct {
	Document  domain.Document
	Artifact  *domain.Artifact
	Send      *domain.DocumentSend
	RenderErr error
	SendErr   error
}

type Dispatcher struct {
	store    Store
	renderer Renderer
	provider email.Provider
	breaker  *circuitbreaker.CircuitBreaker // optional
	activity ActivityRecorder               // optional
	metrics  MetricsSink                    // optional
	log      zerolog.Logger
}

func New(store Store, renderer Renderer, provider email.Provider, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		renderer: renderer,
		provider: provider,
		log:      log,
	}
}

func (d *Dispatcher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

func (d *Dispatcher) WithActivity(rec ActivityRecorder) *Dispatcher {
	d.activity = rec
	return d
}

func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Dispatch renders req.Document if it has no PDF yet, then sends it when
// the rule has auto_send set and the document was not sent before. A
// document resumed from an earlier attempt skips the steps it already
// completed.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	doc := req.Document
	res := Result{Document: doc}

	settings, err := d.store.GetSettings(ctx, doc.OwnerID)
	if err != nil {
		err = errors.Wrap(err, "load company settings")
		res.RenderErr, res.SendErr = err, err
		return res
	}

	customer := d.customer(ctx, doc)

	if doc.PDFURL != "" {
		res.Artifact = &domain.Artifact{URL: doc.PDFURL, StoragePath: doc.StoragePath}
	} else {
		art, err := d.render(ctx, doc, customer, settings)
		if err != nil {
			res.RenderErr = err
		} else {
			doc.PDFURL = art.URL
			doc.StoragePath = art.StoragePath
			doc.Status = domain.DocumentStatusSent
			res.Artifact = &art
		}
	}
	res.Document = doc

	if !req.Rule.AutoSend || res.Artifact == nil || doc.SentAt != nil {
		return res
	}
	if customer == nil || customer.Email == "" {
		d.log.Info().
			Str("rule_id", req.Rule.ID.String()).
			Str("document_id", doc.ID.String()).
			Msg("auto-send skipped: customer has no email address")
		return res
	}

	send, err := d.send(ctx, doc, customer, settings, req.Now)
	if send != nil {
		doc.SentAt = &send.SentAt
		doc.LastSentEmail = send.RecipientEmail
		res.Send = send
		res.Document = doc
	}
	res.SendErr = err
	return res
}

func (d *Dispatcher) customer(ctx context.Context, doc domain.Document) *domain.Customer {
	if doc.CustomerID == nil {
		return nil
	}
	c, err := d.store.GetCustomer(ctx, doc.OwnerID, *doc.CustomerID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			d.log.Warn().Err(err).Str("document_id", doc.ID.String()).Msg("failed to load customer")
		}
		return nil
	}
	return &c
}

func (d *Dispatcher) render(ctx context.Context, doc domain.Document, customer *domain.Customer, settings domain.CompanySettings) (domain.Artifact, error) {
	if doc.TemplateID == nil {
		d.renderOutcome(metrics.OutcomeNotAttempted, 0)
		return domain.Artifact{}, ErrNoTemplate
	}
	tpl, err := d.store.GetTemplate(ctx, doc.OwnerID, *doc.TemplateID)
	if errors.Is(err, domain.ErrNotFound) {
		d.renderOutcome(metrics.OutcomeNotAttempted, 0)
		return domain.Artifact{}, ErrNoTemplate
	}
	if err != nil {
		d.renderOutcome(metrics.OutcomeFailed, 0)
		return domain.Artifact{}, errors.Wrap(err, "load template")
	}

	req := render.Request{
		Template: tpl.TemplateJSON,
		Inputs:   render.Inputs(tpl.TemplateJSON, render.FieldsFor(doc, customer, settings)),
		Filename: render.Filename(doc),
	}

	start := time.Now()
	var art domain.Artifact
	err = d.guard(breakerKeyRender, func() error {
		var rerr error
		art, rerr = d.renderer.Render(ctx, req)
		return rerr
	})
	elapsed := time.Since(start)

	if err != nil {
		d.renderOutcome(outcomeFor(err), elapsed)
		d.log.Warn().Err(err).
			Str("document_id", doc.ID.String()).
			Str("error_class", metrics.ClassifyError(err)).
			Msg("render failed, document stays concept")
		return domain.Artifact{}, errors.Wrap(err, "render")
	}

	if err := d.store.UpdateDocumentArtifact(ctx, doc.OwnerID, doc.ID, art, domain.DocumentStatusSent); err != nil {
		d.renderOutcome(metrics.OutcomeFailed, elapsed)
		return domain.Artifact{}, errors.Wrap(err, "store artifact")
	}
	d.renderOutcome(metrics.OutcomeSuccess, elapsed)
	return art, nil
}

func (d *Dispatcher) send(ctx context.Context, doc domain.Document, customer *domain.Customer, settings domain.CompanySettings, now time.Time) (*domain.DocumentSend, error) {
	content := email.BuildDocumentEmail(doc, customer, settings)
	msg := email.Message{
		To:       customer.Email,
		ToName:   customer.Name,
		Subject:  content.Subject,
		Text:     content.Text,
		HTML:     content.HTML,
		FromName: settings.EmailFromName,
		ReplyTo:  settings.EmailReplyTo,
	}

	provider := d.provider.Name()
	var result email.Result
	err := d.guard("email:"+provider, func() error {
		result = d.provider.Send(ctx, msg)
		return result.Err
	})
	if err != nil {
		d.sendOutcome(provider, outcomeFor(err))
		d.log.Warn().Err(err).
			Str("document_id", doc.ID.String()).
			Str("provider", provider).
			Msg("auto-send failed")
		return nil, errors.Wrap(err, "send email")
	}
	d.sendOutcome(provider, metrics.OutcomeSuccess)

	if result.Provider == "" {
		result.Provider = provider
	}
	send := &domain.DocumentSend{
		ID:                uuid.New(),
		OwnerID:           doc.OwnerID,
		DocumentID:        doc.ID,
		RecipientEmail:    customer.Email,
		RecipientName:     customer.Name,
		Subject:           content.Subject,
		BodyText:          content.Text,
		Provider:          result.Provider,
		ProviderMessageID: result.MessageID,
		DeliveryStatus:    deliveryStatus,
		SentAt:            now.UTC(),
	}

	// The email is out at this point. Bookkeeping failures are reported with
	// the send, and the document is stamped regardless so a retried run sees
	// SentAt and does not mail the customer twice.
	var bookErr error
	if err := d.store.InsertSend(ctx, *send); err != nil {
		d.log.Error().Err(err).Str("document_id", doc.ID.String()).Msg("email sent but send record not stored")
		bookErr = errors.Wrap(err, "record send")
	}
	if err := d.store.MarkDocumentSent(ctx, doc.OwnerID, doc.ID, send.SentAt, customer.Email); err != nil {
		d.log.Error().Err(err).Str("document_id", doc.ID.String()).Msg("failed to stamp document as sent")
		bookErr = errors.CombineErrors(bookErr, errors.Wrap(err, "mark document sent"))
	}

	if d.activity != nil {
		_ = d.activity.Record(ctx, activity.Entry(doc.OwnerID, &doc.ID, activity.EntityDocument, doc.ID, activity.ActionSent, map[string]any{
			"recipient":       customer.Email,
			"provider":        send.Provider,
			"message_id":      send.ProviderMessageID,
			"automated":       true,
			"document_number": doc.Number,
		}))
	}
	return send, bookErr
}

func (d *Dispatcher) guard(key string, fn func() error) error {
	if d.breaker == nil {
		return fn()
	}
	return d.breaker.Do(key, fn)
}

func (d *Dispatcher) renderOutcome(outcome string, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RenderOutcome(outcome, elapsed)
	}
}

func (d *Dispatcher) sendOutcome(provider, outcome string) {
	if d.metrics != nil {
		d.metrics.SendOutcome(provider, outcome)
	}
}

func outcomeFor(err error) string {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return metrics.OutcomeCircuitOpen
	}
	return metrics.OutcomeFailed
}
