// Package analytics keeps per-owner counters of automation activity in
// Redis, bucketed by time window. Counters are best effort: a write failure
// is logged and never affects the run.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const (
	DefaultWindow    = time.Hour
	DefaultRetention = 30 * 24 * time.Hour
)

// Counter increments keys and sets their expiry in one round trip.
type Counter interface {
	Incr(ctx context.Context, keys []string, ttl time.Duration) error
}

type Config struct {
	Window    time.Duration
	Retention time.Duration
}

type RedisSink struct {
	counter Counter
	config  Config
	log     zerolog.Logger
}

func NewRedisSink(client *redis.Client, config Config, log zerolog.Logger) *RedisSink {
	return NewSink(redisCounter{client: client}, config, log)
}

func NewSink(counter Counter, config Config, log zerolog.Logger) *RedisSink {
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	return &RedisSink{counter: counter, config: config, log: log}
}

// Record counts one run outcome for ownerID in the bucket containing at.
func (s *RedisSink) Record(ctx context.Context, ownerID uuid.UUID, outcome domain.RunOutcome, at time.Time) {
	keys := Keys(ownerID, outcome, at, s.config.Window)
	if err := s.counter.Incr(ctx, keys, s.config.Retention); err != nil {
		s.log.Warn().Err(err).
			Str("owner_id", ownerID.String()).
			Str("status", string(outcome.Status)).
			Msg("failed to record analytics")
	}
}

// Keys returns the counters touched by outcome.
func Keys(ownerID uuid.UUID, outcome domain.RunOutcome, at time.Time, window time.Duration) []string {
	bucket := truncateToBucket(at, window)
	prefix := "o:" + ownerID.String()

	keys := []string{fmt.Sprintf("%s:runs:%s:%s", prefix, outcome.Status, bucket)}
	if outcome.Status == domain.OutcomeCompleted && outcome.DocumentID != nil {
		keys = append(keys, fmt.Sprintf("%s:documents:%s", prefix, bucket))
	}
	if outcome.AutoSent {
		keys = append(keys, fmt.Sprintf("%s:sent:%s", prefix, bucket))
	}
	return keys
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case 24 * time.Hour:
		return t.Format("20060102")
	default:
		return t.Format("2006010215")
	}
}

type redisCounter struct {
	client *redis.Client
}

func (c redisCounter) Incr(ctx context.Context, keys []string, ttl time.Duration) error {
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}
