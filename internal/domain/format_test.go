package domain

import (
	"testing"
	"time"
)

func TestFormatEuro(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "€ 0,00"},
		{5.5, "€ 5,50"},
		{1234.56, "€ 1.234,56"},
		{1234567.891, "€ 1.234.567,89"},
		{-42, "€ -42,00"},
		{999.999, "€ 1.000,00"},
	}
	for _, tt := range tests {
		if got := FormatEuro(tt.in); got != tt.want {
			t.Errorf("FormatEuro(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDate(t *testing.T) {
	if got := FormatDate(time.Date(2024, 2, 5, 13, 0, 0, 0, time.UTC)); got != "05-02-2024" {
		t.Errorf("got %q", got)
	}
	if got := FormatDate(time.Time{}); got != "" {
		t.Errorf("zero time should format empty, got %q", got)
	}
}
