package calendar

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a calendar day with no time or zone component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Parse reads a YYYY-MM-DD date key.
func Parse(value string) (Date, error) {
	t, err := time.Parse(layout, value)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return Of(t), nil
}

// Of returns the calendar date of t in t's location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the calendar date of now in loc.
func Today(now time.Time, loc *time.Location) Date {
	return Of(now.In(loc))
}

// String formats the date as its YYYY-MM-DD key.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// AddDays returns d shifted by n days. Month and year boundaries are normalized.
func (d Date) AddDays(n int) Date {
	return Of(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Start returns local midnight at the beginning of d.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// Interval returns the half-open [start, end) span of d in loc. Days affected
// by a DST shift are 23 or 25 hours long.
func (d Date) Interval(loc *time.Location) (time.Time, time.Time) {
	return d.Start(loc), d.AddDays(1).Start(loc)
}

// Range returns every date from start to end, inclusive of both ends.
// It returns nil when end is before start.
func Range(start, end Date) []Date {
	if end.Before(start) {
		return nil
	}
	dates := make([]Date, 0)
	for d := start; !end.Before(d); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}

// TrailingWindow returns the n days before today, newest first. Today itself
// is never included.
func TrailingWindow(today Date, n int) []Date {
	if n <= 0 {
		return nil
	}
	dates := make([]Date, 0, n)
	for i := 1; i <= n; i++ {
		dates = append(dates, today.AddDays(-i))
	}
	return dates
}
