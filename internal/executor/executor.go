// Package executor runs one occurrence of a recurring rule.
//
// A run starts by claiming the (rule, scheduled_at) slot. The claim is the
// only concurrency control: a slot owned by another actor yields a skipped
// outcome and no side effects. A failed slot can be claimed again, and a
// run that already produced its document resumes that document instead of
// cloning a second one.
package executor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/activity"
	"github.com/djlord-it/easy-invoice/internal/dispatch"
	"github.com/djlord-it/easy-invoice/internal/domain"
)

var ErrSourceNotFound = errors.New("source document not found")

const reasonAlreadyClaimed = "already_claimed"

// settleTimeout bounds marking a run failed once its own context is gone.
const settleTimeout = 10 * time.Second

type Store interface {
	// ClaimRun inserts run for its slot, or takes over the slot when the
	// previous attempt failed. It returns domain.ErrAlreadyClaimed when the
	// slot belongs to a running or completed run.
	ClaimRun(ctx context.Context, run domain.RecurringRun) (domain.RecurringRun, error)
	GetRule(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RecurringRule, error)
	GetDocument(ctx context.Context, ownerID, documentID uuid.UUID) (domain.Document, error)
	// CompleteRun persists the advanced rule and the completed run in one
	// transaction.
	CompleteRun(ctx context.Context, rule domain.RecurringRule, run domain.RecurringRun) error
	FailRun(ctx context.Context, runID uuid.UUID, message string, at time.Time) error
}

type Cloner interface {
	Clone(ctx context.Context, rule domain.RecurringRule, source domain.Document, runID uuid.UUID, now time.Time) (domain.Document, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) dispatch.Result
}

type ActivityRecorder interface {
	Record(ctx context.Context, entry domain.ActivityEntry) error
}

type MetricsSink interface {
	RunOutcome(status string, duration time.Duration)
	RunsInFlightIncr()
	RunsInFlightDecr()
}

type AnalyticsSink interface {
	Record(ctx context.Context, ownerID uuid.UUID, outcome domain.RunOutcome, at time.Time)
}

type Executor struct {
	store      Store
	cloner     Cloner
	dispatcher Dispatcher
	activity   ActivityRecorder // optional
	metrics    MetricsSink      // optional
	analytics  AnalyticsSink    // optional
	clock      func() time.Time
	log        zerolog.Logger
}

func New(store Store, cloner Cloner, dispatcher Dispatcher, log zerolog.Logger) *Executor {
	return &Executor{
		store:      store,
		cloner:     cloner,
		dispatcher: dispatcher,
		clock:      time.Now,
		log:        log,
	}
}

func (e *Executor) WithActivity(rec ActivityRecorder) *Executor {
	e.activity = rec
	return e
}

func (e *Executor) WithMetrics(sink MetricsSink) *Executor {
	e.metrics = sink
	return e
}

func (e *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	e.analytics = sink
	return e
}

func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// Trigger runs ruleID now for its current NextRunAt slot. A manual trigger
// and the poll loop share the slot, so they never both execute it.
func (e *Executor) Trigger(ctx context.Context, ownerID, ruleID uuid.UUID) (domain.RunOutcome, error) {
	rule, err := e.store.GetRule(ctx, ownerID, ruleID)
	if err != nil {
		return domain.RunOutcome{}, errors.Wrap(err, "load rule")
	}
	return e.Execute(ctx, rule)
}

// Execute runs the occurrence of rule scheduled at rule.NextRunAt. A
// skipped outcome is not an error. On failure the run is marked failed,
// the rule keeps its NextRunAt and the error is returned. Cancelling ctx
// after the claim does not abandon the run.
func (e *Executor) Execute(ctx context.Context, rule domain.RecurringRule) (domain.RunOutcome, error) {
	start := e.clock()
	now := start.UTC()

	if e.metrics != nil {
		e.metrics.RunsInFlightIncr()
		defer e.metrics.RunsInFlightDecr()
	}

	slot := rule.NextRunAt.UTC()
	if slot.IsZero() {
		slot = now.Truncate(time.Second)
	}

	logger := e.log.With().
		Str("rule_id", rule.ID.String()).
		Time("scheduled_at", slot).
		Logger()

	run, err := e.store.ClaimRun(ctx, domain.RecurringRun{
		ID:          uuid.New(),
		OwnerID:     rule.OwnerID,
		RuleID:      rule.ID,
		ScheduledAt: slot,
		Status:      domain.RunStatusRunning,
		Attempt:     1,
		StartedAt:   now,
	})
	if errors.Is(err, domain.ErrAlreadyClaimed) {
		logger.Info().Msg("slot already claimed, skipping")
		outcome := domain.RunOutcome{
			Status:      domain.OutcomeSkipped,
			RuleID:      rule.ID,
			ScheduledAt: slot,
			Reason:      reasonAlreadyClaimed,
		}
		e.record(ctx, rule, nil, activity.ActionSkipped, map[string]any{
			"rule_name":    rule.Name,
			"scheduled_at": slot,
			"reason":       reasonAlreadyClaimed,
		})
		e.finish(ctx, rule, outcome, start)
		return outcome, nil
	}
	if err != nil {
		outcome := domain.RunOutcome{
			Status:      domain.OutcomeFailed,
			RuleID:      rule.ID,
			ScheduledAt: slot,
			Reason:      domain.TruncateRunError(err.Error()),
		}
		e.finish(ctx, rule, outcome, start)
		return outcome, errors.Wrap(err, "claim run")
	}

	logger = logger.With().Str("run_id", run.ID.String()).Int("attempt", run.Attempt).Logger()

	// Once claimed, the run is carried to completed or failed even if ctx is
	// cancelled meanwhile. Shutdown stops the poll loop between rules.
	ctx = context.WithoutCancel(ctx)

	outcome, err := e.run(ctx, rule, run, now, logger)
	if err != nil {
		msg := domain.TruncateRunError(err.Error())
		failCtx, cancel := context.WithTimeout(ctx, settleTimeout)
		if ferr := e.store.FailRun(failCtx, run.ID, msg, e.clock().UTC()); ferr != nil {
			logger.Error().Err(ferr).Msg("failed to mark run failed")
		}
		cancel()
		logger.Error().Err(err).Msg("run failed, rule not advanced")

		outcome.Status = domain.OutcomeFailed
		outcome.Reason = msg
		e.record(ctx, rule, outcome.DocumentID, activity.ActionAutomationFailed, map[string]any{
			"rule_name": rule.Name,
			"run_id":    run.ID,
			"attempt":   run.Attempt,
			"error":     msg,
		})
		e.finish(ctx, rule, outcome, start)
		return outcome, errors.Wrapf(err, "rule %s", rule.ID)
	}

	logger.Info().
		Str("document_id", outcome.DocumentID.String()).
		Str("document_number", outcome.DocumentNumber).
		Bool("auto_sent", outcome.AutoSent).
		Msg("run completed")
	e.record(ctx, rule, outcome.DocumentID, activity.ActionAutomationRan, map[string]any{
		"rule_name":       rule.Name,
		"document_number": outcome.DocumentNumber,
		"auto_sent":       outcome.AutoSent,
	})
	e.finish(ctx, rule, outcome, start)
	return outcome, nil
}

// run is the body of a claimed run. The returned outcome carries the
// document even on error so a failure can be attributed to it.
func (e *Executor) run(ctx context.Context, rule domain.RecurringRule, run domain.RecurringRun, now time.Time, logger zerolog.Logger) (domain.RunOutcome, error) {
	outcome := domain.RunOutcome{
		RuleID:      rule.ID,
		RunID:       run.ID,
		ScheduledAt: run.ScheduledAt,
	}

	doc, resumed, err := e.resume(ctx, rule, run, logger)
	if err != nil {
		return outcome, err
	}

	if !resumed {
		source, err := e.store.GetDocument(ctx, rule.OwnerID, rule.SourceDocumentID)
		if errors.Is(err, domain.ErrNotFound) {
			return outcome, ErrSourceNotFound
		}
		if err != nil {
			return outcome, errors.Wrap(err, "load source document")
		}

		doc, err = e.cloner.Clone(ctx, rule, source, run.ID, now)
		if err != nil {
			return outcome, errors.Wrap(err, "clone document")
		}
		e.record(ctx, rule, &doc.ID, activity.ActionAutomationCloned, map[string]any{
			"rule_name":          rule.Name,
			"document_number":    doc.Number,
			"source_document_id": source.ID,
		})
	}

	docID := doc.ID
	outcome.DocumentID = &docID
	outcome.DocumentNumber = doc.Number

	res := e.dispatcher.Dispatch(ctx, dispatch.Request{Rule: rule, Document: doc, Now: now})
	if res.RenderErr != nil {
		if errors.Is(res.RenderErr, dispatch.ErrNoTemplate) {
			logger.Info().Msg("no template, document not rendered")
		} else {
			logger.Warn().Err(res.RenderErr).Msg("render failed, continuing")
		}
	}
	if res.SendErr != nil {
		logger.Warn().Err(res.SendErr).Msg("auto-send failed, continuing")
	}

	completedAt := e.clock().UTC()
	completed := run
	completed.Status = domain.RunStatusCompleted
	completed.CompletedAt = &completedAt
	completed.DocumentID = &docID
	completed.Error = ""
	if res.Send != nil {
		sendID := res.Send.ID
		completed.SendID = &sendID
		outcome.SendID = &sendID
		outcome.AutoSent = true
	}

	if err := e.store.CompleteRun(ctx, Advance(rule, now), completed); err != nil {
		return outcome, errors.Wrap(err, "complete run")
	}

	outcome.Status = domain.OutcomeCompleted
	return outcome, nil
}

// resume loads the document a previous attempt of run already created.
func (e *Executor) resume(ctx context.Context, rule domain.RecurringRule, run domain.RecurringRun, logger zerolog.Logger) (domain.Document, bool, error) {
	if run.DocumentID == nil {
		return domain.Document{}, false, nil
	}
	doc, err := e.store.GetDocument(ctx, rule.OwnerID, *run.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Str("document_id", run.DocumentID.String()).Msg("document of failed attempt is gone, cloning again")
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, errors.Wrap(err, "load document of previous attempt")
	}
	logger.Info().Str("document_id", doc.ID.String()).Msg("resuming document of previous attempt")
	return doc, true, nil
}

func (e *Executor) record(ctx context.Context, rule domain.RecurringRule, documentID *uuid.UUID, action string, detail map[string]any) {
	if e.activity == nil {
		return
	}
	_ = e.activity.Record(ctx, activity.Entry(rule.OwnerID, documentID, activity.EntityAutomation, rule.ID, action, detail))
}

func (e *Executor) finish(ctx context.Context, rule domain.RecurringRule, outcome domain.RunOutcome, start time.Time) {
	if e.metrics != nil {
		e.metrics.RunOutcome(string(outcome.Status), e.clock().Sub(start))
	}
	if e.analytics != nil {
		e.analytics.Record(ctx, rule.OwnerID, outcome, e.clock().UTC())
	}
}
