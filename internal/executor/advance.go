package executor

import (
	"time"

	"github.com/djlord-it/easy-invoice/internal/domain"
	"github.com/djlord-it/easy-invoice/internal/schedule"
)

// Advance moves rule past a completed occurrence at now. The rule is
// deactivated when the next run falls after EndDate or the occurrence count
// reaches MaxOccurrences; either condition is enough.
func Advance(rule domain.RecurringRule, now time.Time) domain.RecurringRule {
	now = now.UTC().Truncate(time.Second)
	next := schedule.Next(rule.Frequency, now).Truncate(time.Second)

	rule.NextRunAt = next
	rule.LastRunAt = &now
	rule.OccurrencesCount++
	rule.UpdatedAt = now

	if rule.EndDate != nil && dateOf(next).After(dateOf(*rule.EndDate)) {
		rule.IsActive = false
	}
	if rule.MaxOccurrences != nil && rule.OccurrencesCount >= *rule.MaxOccurrences {
		rule.IsActive = false
	}
	return rule
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
