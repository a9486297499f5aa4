package api

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/djlord-it/easy-invoice/internal/domain"
)

const (
	maxNameLength   = 200
	maxIntervalDays = 3650
)

var frequencies = []any{
	string(domain.FrequencyWeekly),
	string(domain.FrequencyMonthly),
	string(domain.FrequencyQuarterly),
	string(domain.FrequencyYearly),
	string(domain.FrequencyCustom),
}

func validateCreate(req CreateAutomationRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.Length(0, maxNameLength)),
		validation.Field(&req.SourceDocumentID, validation.Required, is.UUID),
		validation.Field(&req.CustomerID, is.UUID),
		validation.Field(&req.Frequency, validation.In(frequencies...)),
		validation.Field(&req.DayOfMonth, validation.Min(1), validation.Max(31)),
		validation.Field(&req.IntervalDays,
			validation.When(req.Frequency == string(domain.FrequencyCustom), validation.Required),
			validation.Min(1), validation.Max(maxIntervalDays)),
		validation.Field(&req.EndDate, validation.Date(dateLayout)),
		validation.Field(&req.MaxOccurrences, validation.Min(1)),
	)
}

func validateUpdate(req UpdateAutomationRequest) error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Name, validation.NilOrNotEmpty, validation.Length(1, maxNameLength)),
		validation.Field(&req.Frequency, validation.NilOrNotEmpty, validation.In(frequencies...)),
		validation.Field(&req.DayOfMonth, validation.Min(1), validation.Max(31)),
		validation.Field(&req.IntervalDays, validation.Min(1), validation.Max(maxIntervalDays)),
		validation.Field(&req.EndDate, validation.Date(dateLayout)),
		validation.Field(&req.MaxOccurrences, validation.Min(0)),
	)
}

// parseDate parses a validated YYYY-MM-DD value as UTC midnight.
func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
