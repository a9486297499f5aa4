// Package schedule computes the next run time of a recurring rule.
//
// All arithmetic is calendar arithmetic in UTC. Adding months keeps the day
// of month when the target month is long enough and otherwise lands on the
// target month's last day (Jan 31 + 1 month = Feb 29 in a leap year).
package schedule

import (
	"time"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

// maxPinnedDay keeps pinned monthly runs valid in every month.
const maxPinnedDay = 28

// Next returns the next scheduled run after from for the given frequency.
// The result is always strictly after from.
func Next(f domain.Frequency, from time.Time) time.Time {
	from = from.UTC()

	switch v := f.(type) {
	case domain.Weekly:
		return from.AddDate(0, 0, 7)
	case domain.Monthly:
		return nextMonthly(v.DayOfMonth, from)
	case domain.Quarterly:
		return addMonths(from, 3)
	case domain.Yearly:
		return addMonths(from, 12)
	case domain.Custom:
		if v.IntervalDays > 0 {
			return from.AddDate(0, 0, v.IntervalDays)
		}
		return nextMonthly(0, from)
	default:
		return nextMonthly(0, from)
	}
}

func nextMonthly(dayOfMonth int, from time.Time) time.Time {
	next := addMonths(from, 1)
	if dayOfMonth <= 0 {
		return next
	}
	day := min(dayOfMonth, maxPinnedDay)
	return time.Date(next.Year(), next.Month(), day,
		next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), time.UTC)
}

// addMonths adds n calendar months, clamping the day to the target month.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
