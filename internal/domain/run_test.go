package domain

import (
	"strings"
	"testing"
)

func TestRunStatus_Values(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusRunning, "running"},
		{RunStatusCompleted, "completed"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("RunStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestTruncateRunError(t *testing.T) {
	short := "source document not found"
	if got := TruncateRunError(short); got != short {
		t.Errorf("short message changed: %q", got)
	}

	long := strings.Repeat("é", MaxRunErrorLength+20)
	got := TruncateRunError(long)
	if n := len([]rune(got)); n != MaxRunErrorLength {
		t.Errorf("truncated length = %d runes, want %d", n, MaxRunErrorLength)
	}
}

func TestParseFrequency(t *testing.T) {
	fifteen := 15
	ten := 10

	tests := []struct {
		name string
		kind string
		dom  *int
		days *int
		want Frequency
	}{
		{"weekly", "weekly", nil, nil, Weekly{}},
		{"monthly plain", "monthly", nil, nil, Monthly{}},
		{"monthly pinned", "monthly", &fifteen, nil, Monthly{DayOfMonth: 15}},
		{"quarterly", "quarterly", nil, nil, Quarterly{}},
		{"yearly", "yearly", nil, nil, Yearly{}},
		{"custom", "custom", nil, &ten, Custom{IntervalDays: 10}},
		{"custom without interval", "custom", nil, nil, Custom{}},
		{"unknown falls back to monthly", "fortnightly", &fifteen, &ten, Monthly{}},
		{"empty falls back to monthly", "", nil, nil, Monthly{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseFrequency(tt.kind, tt.dom, tt.days)
			if got != tt.want {
				t.Errorf("ParseFrequency(%q) = %#v, want %#v", tt.kind, got, tt.want)
			}
		})
	}
}

func TestFrequencyColumns_RoundTrip(t *testing.T) {
	for _, f := range []Frequency{Weekly{}, Monthly{}, Monthly{DayOfMonth: 31}, Quarterly{}, Yearly{}, Custom{IntervalDays: 14}} {
		kind, dom, days := FrequencyColumns(f)
		if got := ParseFrequency(kind, dom, days); got != f {
			t.Errorf("round trip of %#v = %#v", f, got)
		}
	}

	kind, dom, days := FrequencyColumns(nil)
	if kind != "monthly" || dom != nil || days != nil {
		t.Errorf("nil frequency columns = %q %v %v", kind, dom, days)
	}
}

func TestCompanySettings_NumberingFor(t *testing.T) {
	s := CompanySettings{InvoiceNumberFormat: "INV-{SEQ:4}", InvoiceNumberNext: 7}

	format, prefix, next := s.NumberingFor(DocumentTypeInvoice)
	if format != "INV-{SEQ:4}" || prefix != "F" || next != 7 {
		t.Errorf("invoice numbering = %q %q %d", format, prefix, next)
	}

	format, prefix, next = s.NumberingFor(DocumentTypeQuote)
	if format != "O-{YEAR}-{SEQ}" || prefix != "O" || next != 1 {
		t.Errorf("quote numbering = %q %q %d", format, prefix, next)
	}
}
