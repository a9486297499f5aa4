package domain

// FrequencyKind is the persisted name of a rule frequency.
type FrequencyKind string

const (
	FrequencyWeekly    FrequencyKind = "weekly"
	FrequencyMonthly   FrequencyKind = "monthly"
	FrequencyQuarterly FrequencyKind = "quarterly"
	FrequencyYearly    FrequencyKind = "yearly"
	FrequencyCustom    FrequencyKind = "custom"
)

// Frequency describes how often a rule recurs. The set of implementations is
// closed: Weekly, Monthly, Quarterly, Yearly and Custom.
type Frequency interface {
	Kind() FrequencyKind
	isFrequency()
}

type Weekly struct{}

// Monthly recurs one calendar month after the previous run. A positive
// DayOfMonth pins the day, clamped to 28.
type Monthly struct {
	DayOfMonth int
}

type Quarterly struct{}

type Yearly struct{}

// Custom recurs every IntervalDays days. A non-positive interval behaves
// like Monthly{}.
type Custom struct {
	IntervalDays int
}

func (Weekly) Kind() FrequencyKind    { return FrequencyWeekly }
func (Monthly) Kind() FrequencyKind   { return FrequencyMonthly }
func (Quarterly) Kind() FrequencyKind { return FrequencyQuarterly }
func (Yearly) Kind() FrequencyKind    { return FrequencyYearly }
func (Custom) Kind() FrequencyKind    { return FrequencyCustom }

func (Weekly) isFrequency()    {}
func (Monthly) isFrequency()   {}
func (Quarterly) isFrequency() {}
func (Yearly) isFrequency()    {}
func (Custom) isFrequency()    {}

// ValidFrequencyKind reports whether kind names a known frequency.
func ValidFrequencyKind(kind string) bool {
	switch FrequencyKind(kind) {
	case FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly, FrequencyCustom:
		return true
	}
	return false
}

// ParseFrequency rebuilds a Frequency from its stored columns.
// Unknown kinds fall back to Monthly{}.
func ParseFrequency(kind string, dayOfMonth, intervalDays *int) Frequency {
	switch FrequencyKind(kind) {
	case FrequencyWeekly:
		return Weekly{}
	case FrequencyMonthly:
		return Monthly{DayOfMonth: deref(dayOfMonth)}
	case FrequencyQuarterly:
		return Quarterly{}
	case FrequencyYearly:
		return Yearly{}
	case FrequencyCustom:
		return Custom{IntervalDays: deref(intervalDays)}
	default:
		return Monthly{}
	}
}

// FrequencyColumns is the inverse of ParseFrequency.
func FrequencyColumns(f Frequency) (kind string, dayOfMonth, intervalDays *int) {
	switch v := f.(type) {
	case Monthly:
		if v.DayOfMonth > 0 {
			d := v.DayOfMonth
			dayOfMonth = &d
		}
	case Custom:
		if v.IntervalDays > 0 {
			n := v.IntervalDays
			intervalDays = &n
		}
	case nil:
		return string(FrequencyMonthly), nil, nil
	}
	return string(f.Kind()), dayOfMonth, intervalDays
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
