package util

import (
	"time"

	"ohlcvsync/internal/domain"
)

// Day truncates t to its calendar date, expressed at UTC midnight. Bars and
// fetch windows are compared as plain dates, never as instants.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in the local time zone, at UTC
// midnight.
func Today() time.Time {
	return Day(time.Now())
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(domain.DateLayout, s)
}

// FormatDay formats t as YYYY-MM-DD.
func FormatDay(t time.Time) string {
	return t.Format(domain.DateLayout)
}

// AddDays shifts a calendar date by n days (negative n moves back).
func AddDays(t time.Time, n int) time.Time {
	return Day(t).AddDate(0, 0, n)
}
