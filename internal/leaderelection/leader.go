// Package leaderelection keeps a single poller active across replicas using a
// Postgres advisory lock.
//
// The lock is session-scoped and lives as long as one dedicated connection.
// Postgres drops it when that connection dies; the heartbeat ping only lets
// the local leader notice and stop polling promptly.
//
// Leadership avoids redundant polling. Run claims stay correct without it.
package leaderelection

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLockKey is the advisory lock key used when none is configured.
const DefaultLockKey int64 = 0x65696e76 // "einv"

// Reasons a term ends, as passed to MetricsSink.LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
	ReasonStepDown = "step_down"
)

// MetricsSink records leadership changes. Methods must not block.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

type Config struct {
	LockKey           int64
	RetryInterval     time.Duration
	HeartbeatInterval time.Duration
}

// Elector runs a leader function only while it holds the lock.
type Elector struct {
	db      *sql.DB
	cfg     Config
	metrics MetricsSink
	log     zerolog.Logger
}

func New(db *sql.DB, cfg Config, log zerolog.Logger) *Elector {
	if cfg.LockKey == 0 {
		cfg.LockKey = DefaultLockKey
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 2 * time.Second
	}
	return &Elector{db: db, cfg: cfg, log: log}
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run contends for the lock until ctx is cancelled. Each time the lock is
// won, lead runs with a context that is cancelled when the term ends; the
// term does not end until lead has returned. If lead returns on its own the
// lock is released and contention resumes after RetryInterval.
func (e *Elector) Run(ctx context.Context, lead func(ctx context.Context) error) {
	log := e.log.With().Int64("lock_key", e.cfg.LockKey).Logger()
	log.Info().
		Dur("retry", e.cfg.RetryInterval).
		Dur("heartbeat", e.cfg.HeartbeatInterval).
		Msg("contending for poller lock")

	for ctx.Err() == nil {
		if reason, held := e.term(ctx, lead, log); held && ctx.Err() == nil {
			log.Warn().Str("reason", reason).Dur("retry_in", e.cfg.RetryInterval).Msg("lost leadership")
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.cfg.RetryInterval):
		}
	}
	log.Info().Msg("stopped contending")
}

// term makes one attempt at the lock. held reports whether it was won; if
// so, reason says why the term ended.
func (e *Elector) term(ctx context.Context, lead func(ctx context.Context) error, log zerolog.Logger) (reason string, held bool) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		log.Error().Err(err).Msg("dedicated connection failed")
		return "", false
	}
	defer conn.Close()

	var won bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.cfg.LockKey).Scan(&won); err != nil {
		log.Error().Err(err).Msg("lock attempt failed")
		return "", false
	}
	if !won {
		log.Debug().Msg("lock held by another replica")
		return "", false
	}

	log.Info().Msg("became leader")
	e.statusChanged(true, "")

	termCtx, endTerm := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- lead(termCtx) }()

	reason = e.watch(ctx, conn, done, log)
	endTerm()
	if reason != ReasonStepDown {
		<-done
	}

	if reason == ReasonStepDown {
		// The session is healthy, so the lock must be dropped explicitly.
		unlockCtx, cancel := context.WithTimeout(context.Background(), e.cfg.HeartbeatInterval)
		if _, err := conn.ExecContext(unlockCtx, queryUnlock, e.cfg.LockKey); err != nil {
			log.Error().Err(err).Msg("unlock failed")
		}
		cancel()
	}

	e.statusChanged(false, reason)
	log.Info().Str("reason", reason).Msg("term ended")
	return reason, true
}

// watch blocks until the term must end: shutdown, a failed heartbeat, or
// lead returning by itself.
func (e *Elector) watch(ctx context.Context, conn *sql.Conn, done <-chan error, log zerolog.Logger) string {
	heartbeat := time.NewTicker(e.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case err := <-done:
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("leader function returned")
			}
			return ReasonStepDown
		case <-heartbeat.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Error().Err(err).Msg("heartbeat failed")
				return ReasonConnLost
			}
		}
	}
}

func (e *Elector) statusChanged(leader bool, reason string) {
	if e.metrics == nil {
		return
	}
	e.metrics.LeaderStatusChanged(leader)
	if leader {
		e.metrics.LeaderAcquired()
	} else {
		e.metrics.LeaderLost(reason)
	}
}

const (
	queryTryLock = `SELECT pg_try_advisory_lock($1)`
	queryUnlock  = `SELECT pg_advisory_unlock($1)`
)
