package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/circuitbreaker"
	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/email"
	"github.com/djlord-it/easy-invoice/internal/metrics"
	"github.com/djlord-it/easy-invoice/internal/render"
)

type mockStore struct {
	mu        sync.Mutex
	settings  domain.CompanySettings
	templates map[uuid.UUID]domain.Template
	customers map[uuid.UUID]domain.Customer
	artifacts map[uuid.UUID]domain.Artifact
	statuses  map[uuid.UUID]domain.DocumentStatus
	sends     []domain.DocumentSend
	sentTo    map[uuid.UUID]string
	insertErr error
}

func newMockStore(owner uuid.UUID) *mockStore {
	return &mockStore{
		settings:  domain.DefaultCompanySettings(owner),
		templates: make(map[uuid.UUID]domain.Template),
		customers: make(map[uuid.UUID]domain.Customer),
		artifacts: make(map[uuid.UUID]domain.Artifact),
		statuses:  make(map[uuid.UUID]domain.DocumentStatus),
		sentTo:    make(map[uuid.UUID]string),
	}
}

func (s *mockStore) GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error) {
	return s.settings, nil
}

func (s *mockStore) GetTemplate(ctx context.Context, ownerID, id uuid.UUID) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return domain.Template{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *mockStore) GetCustomer(ctx context.Context, ownerID, id uuid.UUID) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *mockStore) UpdateDocumentArtifact(ctx context.Context, ownerID, docID uuid.UUID, art domain.Artifact, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[docID] = art
	s.statuses[docID] = status
	return nil
}

func (s *mockStore) InsertSend(ctx context.Context, send domain.DocumentSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.sends = append(s.sends, send)
	return nil
}

func (s *mockStore) MarkDocumentSent(ctx context.Context, ownerID, docID uuid.UUID, sentAt time.Time, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentTo[docID] = recipient
	return nil
}

type mockRenderer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *mockRenderer) Render(ctx context.Context, req render.Request) (domain.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return domain.Artifact{}, r.err
	}
	return domain.Artifact{URL: "https://cdn/" + req.Filename + ".pdf", StoragePath: "generated/" + req.Filename + ".pdf"}, nil
}

type mockProvider struct {
	mu    sync.Mutex
	err   error
	sent  []email.Message
	calls int
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Send(ctx context.Context, msg email.Message) email.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return email.Result{Provider: "mock", Err: p.err}
	}
	p.sent = append(p.sent, msg)
	return email.Result{Provider: "mock", MessageID: "m-1"}
}

type mockActivity struct {
	mu      sync.Mutex
	entries []domain.ActivityEntry
}

func (a *mockActivity) Record(ctx context.Context, e domain.ActivityEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

type mockMetrics struct {
	mu     sync.Mutex
	render []string
	send   []string
}

func (m *mockMetrics) RenderOutcome(outcome string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.render = append(m.render, outcome)
}

func (m *mockMetrics) SendOutcome(provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.send = append(m.send, provider+":"+outcome)
}

type fixture struct {
	store    *mockStore
	renderer *mockRenderer
	provider *mockProvider
	activity *mockActivity
	metrics  *mockMetrics
	d        *Dispatcher
	rule     domain.RecurringRule
	doc      domain.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	owner := uuid.New()
	store := newMockStore(owner)

	tplID := uuid.New()
	store.templates[tplID] = domain.Template{ID: tplID, TemplateJSON: json.RawMessage(`{"schemas":[{"datum":{"type":"text"}}]}`)}
	custID := uuid.New()
	store.customers[custID] = domain.Customer{ID: custID, Name: "Acme", Email: "billing@acme.test"}

	f := &fixture{
		store:    store,
		renderer: &mockRenderer{},
		provider: &mockProvider{},
		activity: &mockActivity{},
		metrics:  &mockMetrics{},
		rule:     domain.RecurringRule{ID: uuid.New(), OwnerID: owner, AutoSend: true},
		doc: domain.Document{
			ID:         uuid.New(),
			OwnerID:    owner,
			Type:       domain.DocumentTypeInvoice,
			Number:     "F-2025-1",
			CustomerID: &custID,
			TemplateID: &tplID,
			Status:     domain.DocumentStatusConcept,
		},
	}
	f.d = New(store, f.renderer, f.provider, zerolog.Nop()).
		WithActivity(f.activity).
		WithMetrics(f.metrics)
	return f
}

func (f *fixture) dispatch() Result {
	return f.d.Dispatch(context.Background(), Request{Rule: f.rule, Document: f.doc, Now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)})
}

func TestDispatch_RenderAndSend(t *testing.T) {
	f := newFixture(t)

	res := f.dispatch()

	if res.RenderErr != nil || res.SendErr != nil {
		t.Fatalf("unexpected errors: render=%v send=%v", res.RenderErr, res.SendErr)
	}
	if res.Artifact == nil || res.Document.PDFURL == "" {
		t.Fatal("expected artifact")
	}
	if res.Document.Status != domain.DocumentStatusSent {
		t.Errorf("status = %s, want sent", res.Document.Status)
	}
	if f.store.statuses[f.doc.ID] != domain.DocumentStatusSent {
		t.Error("artifact not persisted")
	}
	if res.Send == nil || res.Send.ProviderMessageID != "m-1" || res.Send.Provider != "mock" {
		t.Fatalf("unexpected send: %+v", res.Send)
	}
	if len(f.store.sends) != 1 {
		t.Fatalf("expected 1 send record, got %d", len(f.store.sends))
	}
	if f.store.sentTo[f.doc.ID] != "billing@acme.test" {
		t.Error("document not stamped with recipient")
	}
	if res.Document.SentAt == nil || res.Document.LastSentEmail != "billing@acme.test" {
		t.Error("result document missing sent metadata")
	}
	if len(f.activity.entries) != 1 || f.activity.entries[0].Action != "sent" {
		t.Errorf("expected one sent activity, got %+v", f.activity.entries)
	}
	if got := f.provider.sent[0].Subject; got != "Invoice F-2025-1 from " {
		t.Errorf("subject = %q", got)
	}
	if len(f.metrics.render) != 1 || f.metrics.render[0] != metrics.OutcomeSuccess {
		t.Errorf("render metrics = %v", f.metrics.render)
	}
}

func TestDispatch_RenderFailureSkipsSend(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("render service 500: boom")

	res := f.dispatch()

	if res.RenderErr == nil {
		t.Fatal("expected render error")
	}
	if res.Document.Status != domain.DocumentStatusConcept {
		t.Errorf("status = %s, want concept", res.Document.Status)
	}
	if res.Send != nil || f.provider.calls != 0 || len(f.store.sends) != 0 {
		t.Error("nothing should be sent without an artifact")
	}
	if len(f.activity.entries) != 0 {
		t.Error("no sent activity expected")
	}
}

func TestDispatch_NoAutoSend(t *testing.T) {
	f := newFixture(t)
	f.rule.AutoSend = false

	res := f.dispatch()

	if res.Artifact == nil {
		t.Fatal("render should still happen")
	}
	if f.provider.calls != 0 || res.Send != nil {
		t.Error("auto_send=false must not send")
	}
}

func TestDispatch_CustomerWithoutEmail(t *testing.T) {
	f := newFixture(t)
	c := f.store.customers[*f.doc.CustomerID]
	c.Email = ""
	f.store.customers[c.ID] = c

	res := f.dispatch()

	if res.SendErr != nil || res.Send != nil || f.provider.calls != 0 {
		t.Error("customer without email should be skipped silently")
	}
}

func TestDispatch_MissingTemplate(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()
	f.doc.TemplateID = &missing

	res := f.dispatch()

	if !errors.Is(res.RenderErr, ErrNoTemplate) {
		t.Fatalf("RenderErr = %v, want ErrNoTemplate", res.RenderErr)
	}
	if f.renderer.calls != 0 {
		t.Error("renderer should not be called")
	}
	if f.metrics.render[0] != metrics.OutcomeNotAttempted {
		t.Errorf("render metric = %v", f.metrics.render)
	}
}

func TestDispatch_ResumedDocumentNotRenderedOrSentTwice(t *testing.T) {
	f := newFixture(t)
	sent := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	f.doc.PDFURL = "https://cdn/existing.pdf"
	f.doc.SentAt = &sent

	res := f.dispatch()

	if f.renderer.calls != 0 || f.provider.calls != 0 {
		t.Errorf("render calls=%d send calls=%d, want 0/0", f.renderer.calls, f.provider.calls)
	}
	if res.Artifact == nil || res.Artifact.URL != "https://cdn/existing.pdf" {
		t.Error("existing artifact should be reported")
	}
}

func TestDispatch_ResumedRenderedButUnsent(t *testing.T) {
	f := newFixture(t)
	f.doc.PDFURL = "https://cdn/existing.pdf"

	res := f.dispatch()

	if f.renderer.calls != 0 {
		t.Error("should not re-render")
	}
	if res.Send == nil {
		t.Error("should send the existing artifact")
	}
}

func TestDispatch_SendFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errors.New("resend API 500")

	res := f.dispatch()

	if res.SendErr == nil {
		t.Fatal("expected send error")
	}
	if res.Artifact == nil {
		t.Error("render result should be kept")
	}
	if len(f.store.sends) != 0 || res.Document.SentAt != nil {
		t.Error("failed send must not be recorded")
	}
	if f.metrics.send[0] != "mock:"+metrics.OutcomeFailed {
		t.Errorf("send metric = %v", f.metrics.send)
	}
}

func TestDispatch_SendRecordFailure(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = errors.New("db down")

	res := f.dispatch()

	if res.SendErr == nil || res.Send == nil {
		t.Fatalf("expected SendErr alongside the send, got err=%v send=%v", res.SendErr, res.Send)
	}
	if f.store.sentTo[f.doc.ID] != "billing@acme.test" {
		t.Error("document must be stamped sent once the provider accepted the email")
	}
	if res.Document.SentAt == nil {
		t.Error("result document should carry SentAt")
	}

	// A retry of the same run resumes the document and must not mail again.
	f.store.insertErr = nil
	f.doc = res.Document
	f.dispatch()
	if f.provider.calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.calls)
	}
}

func TestDispatch_OpenCircuitSkipsRenderer(t *testing.T) {
	f := newFixture(t)
	cb := circuitbreaker.New(1, time.Hour)
	cb.RecordFailure("render")
	f.d.WithCircuitBreaker(cb)

	res := f.dispatch()

	if !errors.Is(res.RenderErr, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("RenderErr = %v, want circuit open", res.RenderErr)
	}
	if f.renderer.calls != 0 {
		t.Error("open circuit must not call the renderer")
	}
	if f.metrics.render[0] != metrics.OutcomeCircuitOpen {
		t.Errorf("render metric = %v", f.metrics.render)
	}
}

func TestDispatch_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("dial tcp: connection refused")
	f.d.WithCircuitBreaker(circuitbreaker.New(2, time.Hour))

	for i := 0; i < 4; i++ {
		f.doc.ID = uuid.New()
		f.dispatch()
	}
	if f.renderer.calls != 2 {
		t.Errorf("renderer calls = %d, want 2", f.renderer.calls)
	}
}
