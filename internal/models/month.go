package models

import (
	"fmt"
	"time"
)

// MonthFormat is the canonical storage format for a processing month.
// A processing month is always the first day of the month, UTC.
const MonthFormat = "2006-01-02"

// NormalizeMonth truncates a date to the first day of its month in UTC.
func NormalizeMonth(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ParseMonth parses a processing month from "YYYY-MM-DD" or "YYYY-MM".
// Any day component is folded to the first of the month.
func ParseMonth(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("processing month is empty")
	}
	if t, err := time.Parse(MonthFormat, s); err == nil {
		return NormalizeMonth(t), nil
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return NormalizeMonth(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid processing month %q (want YYYY-MM-DD)", s)
}

// FormatMonth renders a processing month in canonical form.
func FormatMonth(t time.Time) string {
	return NormalizeMonth(t).Format(MonthFormat)
}
