// Package api serves the automations HTTP API: rule management, manual
// triggers and run history for a single configured owner.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/activity"
	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/schedule"
)

// Run history limits.
const (
	DefaultRunLimit = 20
	MaxRunLimit     = 100
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Store interface {
	CreateRule(ctx context.Context, rule domain.RecurringRule) error
	GetRule(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RecurringRule, error)
	ListRules(ctx context.Context, ownerID uuid.UUID) ([]domain.RecurringRule, error)
	// UpdateRule writes only the fields set in patch and returns the stored rule.
	UpdateRule(ctx context.Context, ownerID, ruleID uuid.UUID, patch domain.RulePatch) (domain.RecurringRule, error)
	DeleteRule(ctx context.Context, ownerID, ruleID uuid.UUID) error
	ListRuns(ctx context.Context, ownerID, ruleID uuid.UUID, limit int) ([]domain.RecurringRun, error)
	GetDocument(ctx context.Context, ownerID, documentID uuid.UUID) (domain.Document, error)
	// LinkSourceDocument stamps the document with the rule generated from it.
	LinkSourceDocument(ctx context.Context, ownerID, documentID, ruleID uuid.UUID) error
}

// Trigger runs a rule immediately.
type Trigger interface {
	Trigger(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RunOutcome, error)
}

type ActivityRecorder interface {
	Record(ctx context.Context, entry domain.ActivityEntry) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store    Store
	trigger  Trigger
	ownerID  uuid.UUID // single-tenant
	db       HealthChecker
	activity ActivityRecorder
	clock    func() time.Time
	log      zerolog.Logger
	mux      *http.ServeMux
}

func NewHandler(store Store, trigger Trigger, ownerID uuid.UUID, log zerolog.Logger) *Handler {
	h := &Handler{
		store:   store,
		trigger: trigger,
		ownerID: ownerID,
		clock:   time.Now,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /automations", h.owned(h.listAutomations))
	mux.HandleFunc("POST /automations", h.owned(h.createAutomation))
	mux.HandleFunc("GET /automations/{id}", h.owned(h.getAutomation))
	mux.HandleFunc("PUT /automations/{id}", h.owned(h.updateAutomation))
	mux.HandleFunc("DELETE /automations/{id}", h.owned(h.deleteAutomation))
	mux.HandleFunc("POST /automations/{id}/pause", h.owned(h.pauseAutomation))
	mux.HandleFunc("POST /automations/{id}/resume", h.owned(h.resumeAutomation))
	mux.HandleFunc("POST /automations/{id}/trigger", h.owned(h.triggerAutomation))
	mux.HandleFunc("GET /automations/{id}/runs", h.owned(h.listRuns))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	h.mux = mux
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) WithActivity(rec ActivityRecorder) *Handler {
	h.activity = rec
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// owned rejects automation requests when no owner is configured.
func (h *Handler) owned(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.ownerID == uuid.Nil {
			writeError(w, http.StatusServiceUnavailable, "OWNER_ID not configured")
			return
		}
		next(w, r)
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listAutomations(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context(), h.ownerID)
	if err != nil {
		h.internalError(w, err, "failed to list automations")
		return
	}

	resp := ListAutomationsResponse{Automations: make([]AutomationResponse, len(rules))}
	for i, rule := range rules {
		resp.Automations[i] = toAutomationResponse(rule)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createAutomation(w http.ResponseWriter, r *http.Request) {
	var req CreateAutomationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sourceID := uuid.MustParse(req.SourceDocumentID)
	source, err := h.store.GetDocument(r.Context(), h.ownerID, sourceID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "source document not found")
		return
	}
	if err != nil {
		h.internalError(w, err, "failed to create automation")
		return
	}

	kind := req.Frequency
	if kind == "" {
		kind = string(domain.FrequencyMonthly)
	}
	freq := domain.ParseFrequency(kind, req.DayOfMonth, req.IntervalDays)

	now := h.clock().UTC().Truncate(time.Second)
	rule := domain.RecurringRule{
		ID:               uuid.New(),
		OwnerID:          h.ownerID,
		Name:             req.Name,
		SourceDocumentID: source.ID,
		CustomerID:       source.CustomerID,
		Frequency:        freq,
		AutoSend:         req.AutoSend,
		IsActive:         true,
		NextRunAt:        schedule.Next(freq, now),
		MaxOccurrences:   req.MaxOccurrences,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if rule.Name == "" {
		number := source.Number
		if number == "" {
			number = "document"
		}
		rule.Name = "Recurring " + number
	}
	if req.CustomerID != "" {
		id := uuid.MustParse(req.CustomerID)
		rule.CustomerID = &id
	}
	if req.EndDate != nil && *req.EndDate != "" {
		end, _ := parseDate(*req.EndDate)
		rule.EndDate = &end
	}

	if err := h.store.CreateRule(r.Context(), rule); err != nil {
		h.internalError(w, err, "failed to create automation")
		return
	}

	if err := h.store.LinkSourceDocument(r.Context(), h.ownerID, source.ID, rule.ID); err != nil {
		h.log.Warn().Err(err).
			Str("rule_id", rule.ID.String()).
			Str("document_id", source.ID.String()).
			Msg("failed to link source document")
	}

	h.record(r.Context(), &source.ID, rule.ID, activity.ActionCreated, map[string]any{
		"name":      rule.Name,
		"frequency": string(freq.Kind()),
	})

	writeJSON(w, http.StatusCreated, toAutomationResponse(rule))
}

func (h *Handler) getAutomation(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	runs, err := h.store.ListRuns(r.Context(), h.ownerID, rule.ID, DefaultRunLimit)
	if err != nil {
		h.internalError(w, err, "failed to get automation")
		return
	}

	resp := toAutomationResponse(rule)
	resp.Runs = make([]RunResponse, len(runs))
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) updateAutomation(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	var req UpdateAutomationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateUpdate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := h.clock().UTC().Truncate(time.Second)
	patch := domain.RulePatch{
		Name:      req.Name,
		AutoSend:  req.AutoSend,
		UpdatedAt: now,
	}
	if req.EndDate != nil {
		patch.SetEndDate = true
		if *req.EndDate != "" {
			end, _ := parseDate(*req.EndDate)
			patch.EndDate = &end
		}
	}
	if req.MaxOccurrences != nil {
		patch.SetMaxOccurrences = true
		if *req.MaxOccurrences != 0 {
			n := *req.MaxOccurrences
			patch.MaxOccurrences = &n
		}
	}

	if req.Frequency != nil || req.DayOfMonth != nil || req.IntervalDays != nil {
		kind, dom, interval := domain.FrequencyColumns(rule.Frequency)
		if req.Frequency != nil {
			kind = *req.Frequency
		}
		if req.DayOfMonth != nil {
			dom = req.DayOfMonth
		}
		if req.IntervalDays != nil {
			interval = req.IntervalDays
		}
		if kind == string(domain.FrequencyCustom) && (interval == nil || *interval <= 0) {
			writeError(w, http.StatusBadRequest, "interval_days: required for custom frequency.")
			return
		}
		patch.Frequency = domain.ParseFrequency(kind, dom, interval)
		// Only a new frequency reschedules. Every other edit leaves
		// next_run_at and is_active to the executor.
		if req.Frequency != nil {
			next := schedule.Next(patch.Frequency, now)
			patch.NextRunAt = &next
		}
	}

	updated, err := h.store.UpdateRule(r.Context(), h.ownerID, rule.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "automation not found")
			return
		}
		h.internalError(w, err, "failed to update automation")
		return
	}
	writeJSON(w, http.StatusOK, toAutomationResponse(updated))
}

func (h *Handler) deleteAutomation(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteRule(r.Context(), h.ownerID, rule.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "automation not found")
			return
		}
		h.internalError(w, err, "failed to delete automation")
		return
	}

	h.record(r.Context(), nil, rule.ID, activity.ActionDeleted, map[string]any{"name": rule.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseAutomation(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// resumeAutomation reactivates a rule; its next run is computed from now
// so paused periods are not caught up.
func (h *Handler) resumeAutomation(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	now := h.clock().UTC().Truncate(time.Second)
	patch := domain.RulePatch{IsActive: &active, UpdatedAt: now}
	action := activity.ActionPaused
	if active {
		next := schedule.Next(rule.Frequency, now)
		patch.NextRunAt = &next
		action = activity.ActionResumed
	}

	updated, err := h.store.UpdateRule(r.Context(), h.ownerID, rule.ID, patch)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "automation not found")
			return
		}
		h.internalError(w, err, "failed to update automation")
		return
	}

	h.record(r.Context(), nil, rule.ID, action, map[string]any{"name": updated.Name})
	writeJSON(w, http.StatusOK, toAutomationResponse(updated))
}

func (h *Handler) triggerAutomation(w http.ResponseWriter, r *http.Request) {
	ruleID, ok := pathID(w, r)
	if !ok {
		return
	}

	outcome, err := h.trigger.Trigger(r.Context(), h.ownerID, ruleID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "automation not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("rule_id", ruleID.String()).Msg("manual trigger failed")
		resp := NewTriggerResponse(outcome)
		if resp.Status == "" {
			resp.Status = string(domain.OutcomeFailed)
			resp.Reason = domain.TruncateRunError(err.Error())
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	status := http.StatusOK
	if outcome.Status == domain.OutcomeSkipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, NewTriggerResponse(outcome))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseRunLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rule, ok := h.loadRule(w, r)
	if !ok {
		return
	}

	runs, err := h.store.ListRuns(r.Context(), h.ownerID, rule.ID, limit)
	if err != nil {
		h.internalError(w, err, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, resp)
}

// loadRule resolves the {id} path value to a rule of the configured owner,
// writing the error response when it cannot.
func (h *Handler) loadRule(w http.ResponseWriter, r *http.Request) (domain.RecurringRule, bool) {
	ruleID, ok := pathID(w, r)
	if !ok {
		return domain.RecurringRule{}, false
	}
	rule, err := h.store.GetRule(r.Context(), h.ownerID, ruleID)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "automation not found")
		return domain.RecurringRule{}, false
	}
	if err != nil {
		h.internalError(w, err, "failed to load automation")
		return domain.RecurringRule{}, false
	}
	return rule, true
}

func (h *Handler) record(ctx context.Context, documentID *uuid.UUID, ruleID uuid.UUID, action string, detail map[string]any) {
	if h.activity == nil {
		return
	}
	_ = h.activity.Record(ctx, activity.Entry(h.ownerID, documentID, activity.EntityAutomation, ruleID, action, detail))
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.log.Error().Err(err).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid automation id")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	// Limit request body size to prevent DoS via large payloads
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseRunLimit reads ?limit=, defaulting to DefaultRunLimit and accepting
// 1..MaxRunLimit.
func parseRunLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return DefaultRunLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxRunLimit {
		return 0, errors.Newf("limit must be between 1 and %d", MaxRunLimit)
	}
	return n, nil
}
