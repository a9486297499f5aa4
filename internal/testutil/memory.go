package testutil

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

// MemoryStore is an in-memory stand-in for the Postgres store. It enforces
// the same uniqueness rules: one run per (rule, scheduled_at), one document
// per (owner, type, number).
type MemoryStore struct {
	mu sync.Mutex

	rules     map[uuid.UUID]domain.RecurringRule
	runs      map[uuid.UUID]domain.RecurringRun
	slots     map[string]uuid.UUID
	documents map[uuid.UUID]domain.Document
	settings  map[uuid.UUID]domain.CompanySettings
	customers map[uuid.UUID]domain.Customer
	templates map[uuid.UUID]domain.Template
	sends     []domain.DocumentSend
	activity  []domain.ActivityEntry

	failures map[string]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:     make(map[uuid.UUID]domain.RecurringRule),
		runs:      make(map[uuid.UUID]domain.RecurringRun),
		slots:     make(map[string]uuid.UUID),
		documents: make(map[uuid.UUID]domain.Document),
		settings:  make(map[uuid.UUID]domain.CompanySettings),
		customers: make(map[uuid.UUID]domain.Customer),
		templates: make(map[uuid.UUID]domain.Template),
		failures:  make(map[string]error),
	}
}

// FailNext makes the next call to method return err.
func (s *MemoryStore) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
}

func (s *MemoryStore) injected(method string) error {
	if err, ok := s.failures[method]; ok {
		delete(s.failures, method)
		return err
	}
	return nil
}

func slotKey(ruleID uuid.UUID, at time.Time) string {
	return ruleID.String() + "|" + at.UTC().Format(time.RFC3339Nano)
}

// Seeding helpers.

func (s *MemoryStore) AddDocument(doc domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
}

func (s *MemoryStore) AddCustomer(c domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *MemoryStore) AddTemplate(t domain.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
}

func (s *MemoryStore) SetSettings(cs domain.CompanySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs.Exists = true
	s.settings[cs.OwnerID] = cs
}

func (s *MemoryStore) DeleteDocument(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
}

// Inspection helpers.

func (s *MemoryStore) Rule(id uuid.UUID) domain.RecurringRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[id]
}

func (s *MemoryStore) Runs() []domain.RecurringRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RecurringRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// DocumentsFromRule returns the documents cloned for ruleID.
func (s *MemoryStore) DocumentsFromRule(ruleID uuid.UUID) []domain.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Document
	for _, d := range s.documents {
		if d.RecurringRuleID != nil && *d.RecurringRuleID == ruleID && (d.SourceDocumentID != nil) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

func (s *MemoryStore) Sends() []domain.DocumentSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.DocumentSend(nil), s.sends...)
}

func (s *MemoryStore) Activity() []domain.ActivityEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ActivityEntry(nil), s.activity...)
}

// ActivityActions lists recorded actions in order.
func (s *MemoryStore) ActivityActions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.activity))
	for i, e := range s.activity {
		out[i] = e.Action
	}
	return out
}

// Rules.

func (s *MemoryStore) CreateRule(ctx context.Context, rule domain.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CreateRule"); err != nil {
		return err
	}
	s.rules[rule.ID] = rule
	return nil
}

func (s *MemoryStore) GetRule(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetRule"); err != nil {
		return domain.RecurringRule{}, err
	}
	r, ok := s.rules[ruleID]
	if !ok || r.OwnerID != ownerID {
		return domain.RecurringRule{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRules(ctx context.Context, ownerID uuid.UUID) ([]domain.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RecurringRule
	for _, r := range s.rules {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateRule(ctx context.Context, ownerID, ruleID uuid.UUID, patch domain.RulePatch) (domain.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("UpdateRule"); err != nil {
		return domain.RecurringRule{}, err
	}
	existing, ok := s.rules[ruleID]
	if !ok || existing.OwnerID != ownerID {
		return domain.RecurringRule{}, domain.ErrNotFound
	}
	updated := patch.Apply(existing)
	s.rules[ruleID] = updated
	return updated, nil
}

// PutRule replaces a stored rule wholesale. Tests use it to stage rule
// state no API edit can produce.
func (s *MemoryStore) PutRule(rule domain.RecurringRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

func (s *MemoryStore) DeleteRule(ctx context.Context, ownerID, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok || r.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(s.rules, ruleID)
	for id, run := range s.runs {
		if run.RuleID == ruleID {
			delete(s.runs, id)
			delete(s.slots, slotKey(run.RuleID, run.ScheduledAt))
		}
	}
	return nil
}

func (s *MemoryStore) GetDueRules(ctx context.Context, cutoff time.Time, after domain.RuleCursor, limit int) ([]domain.RecurringRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetDueRules"); err != nil {
		return nil, err
	}
	var out []domain.RecurringRule
	for _, r := range s.rules {
		if r.IsActive && !r.NextRunAt.After(cutoff) && (after.IsZero() || cursorLess(after, domain.CursorOf(r))) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return cursorLess(domain.CursorOf(out[i]), domain.CursorOf(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cursorLess orders like the row comparison (next_run_at, id) in Postgres.
func cursorLess(a, b domain.RuleCursor) bool {
	if !a.NextRunAt.Equal(b.NextRunAt) {
		return a.NextRunAt.Before(b.NextRunAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (s *MemoryStore) LinkSourceDocument(ctx context.Context, ownerID, documentID, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	id := ruleID
	d.RecurringRuleID = &id
	s.documents[documentID] = d
	return nil
}

// Runs.

func (s *MemoryStore) ClaimRun(ctx context.Context, run domain.RecurringRun) (domain.RecurringRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("ClaimRun"); err != nil {
		return domain.RecurringRun{}, err
	}
	key := slotKey(run.RuleID, run.ScheduledAt)
	if id, ok := s.slots[key]; ok {
		existing := s.runs[id]
		if existing.Status != domain.RunStatusFailed {
			return domain.RecurringRun{}, domain.ErrAlreadyClaimed
		}
		existing.Status = domain.RunStatusRunning
		existing.Attempt++
		existing.StartedAt = run.StartedAt
		existing.CompletedAt = nil
		existing.Error = ""
		s.runs[id] = existing
		return existing, nil
	}
	if run.Attempt == 0 {
		run.Attempt = 1
	}
	s.runs[run.ID] = run
	s.slots[key] = run.ID
	return run, nil
}

func (s *MemoryStore) CompleteRun(ctx context.Context, rule domain.RecurringRule, run domain.RecurringRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("CompleteRun"); err != nil {
		return err
	}
	if _, ok := s.runs[run.ID]; !ok {
		return domain.ErrNotFound
	}
	if existing, ok := s.rules[rule.ID]; ok {
		existing.NextRunAt = rule.NextRunAt
		existing.LastRunAt = rule.LastRunAt
		existing.OccurrencesCount = rule.OccurrencesCount
		existing.IsActive = existing.IsActive && rule.IsActive
		existing.UpdatedAt = rule.UpdatedAt
		s.rules[rule.ID] = existing
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) FailRun(ctx context.Context, runID uuid.UUID, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("FailRun"); err != nil {
		return err
	}
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	run.Status = domain.RunStatusFailed
	run.Error = message
	run.CompletedAt = &at
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, ownerID, ruleID uuid.UUID, limit int) ([]domain.RecurringRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RecurringRun
	for _, r := range s.runs {
		if r.RuleID == ruleID && r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetStaleRuns(ctx context.Context, olderThan time.Time, limit int) ([]domain.RecurringRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetStaleRuns"); err != nil {
		return nil, err
	}
	var out []domain.RecurringRun
	for _, r := range s.runs {
		if r.Status == domain.RunStatusRunning && r.StartedAt.Before(olderThan) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Documents.

func (s *MemoryStore) GetDocument(ctx context.Context, ownerID, documentID uuid.UUID) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("GetDocument"); err != nil {
		return domain.Document{}, err
	}
	d, ok := s.documents[documentID]
	if !ok || d.OwnerID != ownerID {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (s *MemoryStore) InsertRunDocument(ctx context.Context, runID uuid.UUID, doc domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("InsertRunDocument"); err != nil {
		return err
	}
	for _, d := range s.documents {
		if d.OwnerID == doc.OwnerID && d.Type == doc.Type && d.Number == doc.Number {
			return domain.ErrDuplicateNumber
		}
	}
	run, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	s.documents[doc.ID] = doc
	id := doc.ID
	run.DocumentID = &id
	s.runs[runID] = run
	return nil
}

func (s *MemoryStore) UpdateDocumentArtifact(ctx context.Context, ownerID, documentID uuid.UUID, art domain.Artifact, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	d.PDFURL = art.URL
	d.StoragePath = art.StoragePath
	d.Status = status
	s.documents[documentID] = d
	return nil
}

func (s *MemoryStore) MarkDocumentSent(ctx context.Context, ownerID, documentID uuid.UUID, sentAt time.Time, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[documentID]
	if !ok || d.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	d.SentAt = &sentAt
	d.LastSentEmail = recipient
	s.documents[documentID] = d
	return nil
}

// Settings, customers, templates.

func (s *MemoryStore) GetSettings(ctx context.Context, ownerID uuid.UUID) (domain.CompanySettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.settings[ownerID]; ok {
		return cs, nil
	}
	return domain.DefaultCompanySettings(ownerID), nil
}

func (s *MemoryStore) AdvanceCounter(ctx context.Context, ownerID uuid.UUID, docType domain.DocumentType, from int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("AdvanceCounter"); err != nil {
		return false, err
	}
	cs, ok := s.settings[ownerID]
	if !ok {
		cs = domain.DefaultCompanySettings(ownerID)
		cs.Exists = true
	}
	counter := &cs.InvoiceNumberNext
	if docType == domain.DocumentTypeQuote {
		counter = &cs.QuoteNumberNext
	}
	if *counter != from {
		return false, nil
	}
	*counter = from + 1
	s.settings[ownerID] = cs
	return true, nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, ownerID, customerID uuid.UUID) (domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok || c.OwnerID != ownerID {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, ownerID, templateID uuid.UUID) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[templateID]
	if !ok || t.OwnerID != ownerID {
		return domain.Template{}, domain.ErrNotFound
	}
	return t, nil
}

// Sends and activity.

func (s *MemoryStore) InsertSend(ctx context.Context, send domain.DocumentSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("InsertSend"); err != nil {
		return err
	}
	s.sends = append(s.sends, send)
	return nil
}

func (s *MemoryStore) InsertActivity(ctx context.Context, entry domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected("InsertActivity"); err != nil {
		return err
	}
	s.activity = append(s.activity, entry)
	return nil
}
