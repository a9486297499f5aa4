// Package reconciler reports runs stuck in the running state.
//
// A run is stuck when its process died between claiming the slot and
// marking the run completed or failed. Such a slot is never re-claimed
// automatically: only failed slots can be taken over, and a running run may
// still be making progress on a slow collaborator. The reconciler therefore
// only reports stuck runs, through logs and a gauge, so an operator can
// decide what to do with them. It never modifies a run.
package reconciler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

// Store defines the interface for fetching stale runs.
type Store interface {
	// GetStaleRuns returns runs still running that started before olderThan.
	GetStaleRuns(ctx context.Context, olderThan time.Time, limit int) ([]domain.RecurringRun, error)
}

// MetricsSink receives the number of stale runs found by each cycle.
type MetricsSink interface {
	StaleRunsUpdate(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a running run is considered stale.
	// Default: 30 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of stale runs reported per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler periodically reports stale runs.
type Reconciler struct {
	config  Config
	store   Store
	metrics MetricsSink // optional
	clock   func() time.Time
	log     zerolog.Logger
}

// New creates a new Reconciler. Zero config fields take their defaults.
func New(config Config, store Store, log zerolog.Logger) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
		log:    log,
	}
}

func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reporting loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.log.Info().
		Dur("interval", r.config.Interval).
		Dur("threshold", r.config.Threshold).
		Int("batch_size", r.config.BatchSize).
		Msg("reconciler started")

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reporting cycle and returns the number of stale
// runs found, or -1 when the store could not be queried.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()
	threshold := now.Add(-r.config.Threshold)

	stale, err := r.store.GetStaleRuns(ctx, threshold, r.config.BatchSize)
	if err != nil {
		// Keep the previous gauge value; the next cycle retries.
		r.log.Error().Err(err).Msg("failed to fetch stale runs")
		return -1
	}

	if r.metrics != nil {
		r.metrics.StaleRunsUpdate(len(stale))
	}
	if len(stale) == 0 {
		return 0
	}

	for _, run := range stale {
		r.log.Warn().
			Str("run_id", run.ID.String()).
			Str("rule_id", run.RuleID.String()).
			Time("scheduled_at", run.ScheduledAt).
			Int("attempt", run.Attempt).
			Dur("age", now.Sub(run.StartedAt).Round(time.Second)).
			Msg("run stuck in running")
	}
	r.log.Warn().Int("count", len(stale)).Msg("stale runs found")
	return len(stale)
}
