package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

func TestAdvance(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 30, 15, 999, time.UTC)
	three := 3
	endSame := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	endBefore := time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		rule       domain.RecurringRule
		wantNext   time.Time
		wantCount  int
		wantActive bool
	}{
		{
			name:       "weekly without limits",
			rule:       domain.RecurringRule{Frequency: domain.Weekly{}, IsActive: true},
			wantNext:   time.Date(2024, 3, 8, 8, 30, 15, 0, time.UTC),
			wantCount:  1,
			wantActive: true,
		},
		{
			name:       "max occurrences reached",
			rule:       domain.RecurringRule{Frequency: domain.Weekly{}, IsActive: true, OccurrencesCount: 2, MaxOccurrences: &three},
			wantNext:   time.Date(2024, 3, 8, 8, 30, 15, 0, time.UTC),
			wantCount:  3,
			wantActive: false,
		},
		{
			name:       "max occurrences not yet reached",
			rule:       domain.RecurringRule{Frequency: domain.Weekly{}, IsActive: true, OccurrencesCount: 1, MaxOccurrences: &three},
			wantNext:   time.Date(2024, 3, 8, 8, 30, 15, 0, time.UTC),
			wantCount:  2,
			wantActive: true,
		},
		{
			name:       "next run on end date",
			rule:       domain.RecurringRule{Frequency: domain.Weekly{}, IsActive: true, EndDate: &endSame},
			wantNext:   time.Date(2024, 3, 8, 8, 30, 15, 0, time.UTC),
			wantCount:  1,
			wantActive: true,
		},
		{
			name:       "next run after end date",
			rule:       domain.RecurringRule{Frequency: domain.Weekly{}, IsActive: true, EndDate: &endBefore},
			wantNext:   time.Date(2024, 3, 8, 8, 30, 15, 0, time.UTC),
			wantCount:  1,
			wantActive: false,
		},
		{
			name:       "quarterly",
			rule:       domain.RecurringRule{Frequency: domain.Quarterly{}, IsActive: true},
			wantNext:   time.Date(2024, 6, 1, 8, 30, 15, 0, time.UTC),
			wantCount:  1,
			wantActive: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Advance(tt.rule, now)
			assert.Equal(t, tt.wantNext, got.NextRunAt)
			assert.Equal(t, tt.wantCount, got.OccurrencesCount)
			assert.Equal(t, tt.wantActive, got.IsActive)
			if assert.NotNil(t, got.LastRunAt) {
				assert.Equal(t, now.Truncate(time.Second), *got.LastRunAt)
			}
		})
	}
}

func TestAdvance_DoesNotReactivate(t *testing.T) {
	got := Advance(domain.RecurringRule{Frequency: domain.Monthly{}, IsActive: false}, time.Now())
	assert.False(t, got.IsActive)
}
