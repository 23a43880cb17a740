package util

import "time"

// DayLayout is the wire format for calendar dates (provider bars, query
// parameters).
const DayLayout = "2006-01-02"

// ParseDay parses a calendar date in DayLayout, UTC.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, s)
}

// FormatDay renders t as a calendar date in DayLayout.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// Day truncates t to UTC midnight. Snapshot and return rows key on
// calendar dates, never intraday timestamps.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysAgo is the UTC calendar date n days before now.
func DaysAgo(now time.Time, n int) time.Time {
	return Day(now).AddDate(0, 0, -n)
}
