package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatEuro renders an amount as "€ 1.234,56".
func FormatEuro(amount float64) string {
	cents := int64(math.Round(math.Abs(amount) * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}

	sign := ""
	if amount < 0 && cents > 0 {
		sign = "-"
	}
	return fmt.Sprintf("€ %s%s,%02d", sign, b.String(), cents%100)
}

// FormatDate renders t as dd-mm-yyyy, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02-01-2006")
}
