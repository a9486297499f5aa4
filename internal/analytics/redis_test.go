package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/testutil"
)

type fakeCounter struct {
	keys []string
	ttl  time.Duration
	err  error
}

func (c *fakeCounter) Incr(ctx context.Context, keys []string, ttl time.Duration) error {
	c.keys = append(c.keys, keys...)
	c.ttl = ttl
	return c.err
}

var owner = testutil.MustUUID("6f1c2a7e-0000-4000-8000-000000000001")

func TestKeys(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 37, 0, 0, time.UTC)
	docID := uuid.New()

	tests := []struct {
		name    string
		outcome domain.RunOutcome
		window  time.Duration
		want    []string
	}{
		{
			name:    "completed and sent",
			outcome: domain.RunOutcome{Status: domain.OutcomeCompleted, DocumentID: &docID, AutoSent: true},
			window:  time.Hour,
			want: []string{
				"o:" + owner.String() + ":runs:completed:2024030514",
				"o:" + owner.String() + ":documents:2024030514",
				"o:" + owner.String() + ":sent:2024030514",
			},
		},
		{
			name:    "failed with document",
			outcome: domain.RunOutcome{Status: domain.OutcomeFailed, DocumentID: &docID},
			window:  5 * time.Minute,
			want:    []string{"o:" + owner.String() + ":runs:failed:202403051435"},
		},
		{
			name:    "skipped daily bucket",
			outcome: domain.RunOutcome{Status: domain.OutcomeSkipped},
			window:  24 * time.Hour,
			want:    []string{"o:" + owner.String() + ":runs:skipped:20240305"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keys(owner, tt.outcome, at, tt.window))
		})
	}
}

func TestRecord_UsesRetention(t *testing.T) {
	counter := &fakeCounter{}
	sink := NewSink(counter, Config{Retention: 48 * time.Hour}, zerolog.Nop())

	sink.Record(context.Background(), owner, domain.RunOutcome{Status: domain.OutcomeSkipped}, time.Now())

	require.Len(t, counter.keys, 1)
	assert.Equal(t, 48*time.Hour, counter.ttl)
}

func TestRecord_SwallowsErrors(t *testing.T) {
	counter := &fakeCounter{err: errors.New("redis down")}
	sink := NewSink(counter, Config{}, zerolog.Nop())

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), owner, domain.RunOutcome{Status: domain.OutcomeFailed}, time.Now())
	})
	assert.Equal(t, DefaultRetention, counter.ttl)
}

func TestRedisSink_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	sink := NewRedisSink(client, Config{}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NotPanics(t, func() {
		sink.Record(ctx, owner, domain.RunOutcome{Status: domain.OutcomeCompleted}, time.Now())
	})
}
