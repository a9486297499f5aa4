// Package scheduler polls for due rules and hands each one to the executor.
package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const (
	DefaultPollInterval = 5 * time.Minute
	DefaultBatchSize    = 100
)

type Store interface {
	// GetDueRules returns up to limit active rules with NextRunAt <= cutoff,
	// ordered by (NextRunAt, ID) and starting after the cursor.
	GetDueRules(ctx context.Context, cutoff time.Time, after domain.RuleCursor, limit int) ([]domain.RecurringRule, error)
}

type Executor interface {
	Execute(ctx context.Context, rule domain.RecurringRule) (domain.RunOutcome, error)
}

type MetricsSink interface {
	PollStarted()
	PollCompleted(duration time.Duration, rulesDue int, err error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Due       int
	Completed int
	Failed    int
	Skipped   int
}

type Scheduler struct {
	config   Config
	store    Store
	executor Executor
	metrics  MetricsSink // optional
	clock    func() time.Time
	log      zerolog.Logger
}

func New(config Config, store Store, executor Executor, log zerolog.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Scheduler{
		config:   config,
		store:    store,
		executor: executor,
		clock:    time.Now,
		log:      log,
	}
}

func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.log.Info().
		Dur("poll_interval", s.config.PollInterval).
		Int("batch_size", s.config.BatchSize).
		Msg("scheduler started")

	s.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("poll cycle failed")
	}
}

// RunOnce executes every rule due now, one after another. Due rules are
// read in pages of BatchSize ordered by (NextRunAt, ID), and paging
// continues past each page's last rule until a short page, so rules that
// keep failing at the head of the queue cannot starve the rest. A failing
// rule is logged and does not stop the cycle; only a failure to load due
// rules is returned.
func (s *Scheduler) RunOnce(ctx context.Context) (CycleResult, error) {
	start := s.clock()
	cutoff := start.UTC()
	if s.metrics != nil {
		s.metrics.PollStarted()
	}

	var res CycleResult
	var after domain.RuleCursor
	// A rule advanced by this cycle can still be due and sort after the
	// cursor; it waits for the next cycle.
	ran := make(map[uuid.UUID]bool)
	for ctx.Err() == nil {
		page, err := s.store.GetDueRules(ctx, cutoff, after, s.config.BatchSize)
		if err != nil {
			err = errors.Wrap(err, "get due rules")
			s.pollCompleted(start, res.Due, err)
			return res, err
		}

		for _, rule := range page {
			if ctx.Err() != nil {
				break
			}
			if ran[rule.ID] {
				continue
			}
			ran[rule.ID] = true
			res.Due++
			s.execute(ctx, rule, &res)
		}

		if len(page) < s.config.BatchSize {
			break
		}
		after = domain.CursorOf(page[len(page)-1])
	}

	if res.Due > 0 {
		s.log.Info().
			Int("due", res.Due).
			Int("completed", res.Completed).
			Int("failed", res.Failed).
			Int("skipped", res.Skipped).
			Msg("poll cycle finished")
	}
	s.pollCompleted(start, res.Due, nil)
	return res, nil
}

func (s *Scheduler) execute(ctx context.Context, rule domain.RecurringRule, res *CycleResult) {
	outcome, err := s.executor.Execute(ctx, rule)
	switch {
	case err != nil:
		res.Failed++
		s.log.Error().Err(err).Str("rule_id", rule.ID.String()).Msg("rule execution failed")
	case outcome.Status == domain.OutcomeSkipped:
		res.Skipped++
	default:
		res.Completed++
	}
}

func (s *Scheduler) pollCompleted(start time.Time, due int, err error) {
	if s.metrics != nil {
		s.metrics.PollCompleted(s.clock().Sub(start), due, err)
	}
}
