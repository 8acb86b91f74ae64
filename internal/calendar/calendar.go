// Package calendar holds the exchange-local date arithmetic used by the
// sync pipeline. All functions take an explicit *time.Location; nothing in
// this package consults the process-local timezone.
package calendar

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date wire format used throughout the pipeline.
const DateLayout = "2006-01-02"

// Today returns the current calendar date in the given timezone.
func Today(loc *time.Location) string {
	return time.Now().In(loc).Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD string as midnight in the given timezone.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// DateOf converts an instant to its calendar date in the given timezone.
func DateOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// AddDays shifts a YYYY-MM-DD date by n calendar days in the given timezone.
func AddDays(date string, n int, loc *time.Location) (string, error) {
	t, err := ParseDate(date, loc)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// DayStart returns 00:00:00 of the given date in the given timezone.
func DayStart(date string, loc *time.Location) (time.Time, error) {
	return ParseDate(date, loc)
}

// DayEnd returns 23:59:59 of the given date in the given timezone.
func DayEnd(date string, loc *time.Location) (time.Time, error) {
	t, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.AddDate(0, 0, 1).Add(-time.Second), nil
}

// DaysBetween returns the number of calendar days from start to end,
// inclusive of both endpoints. Returns an error if end precedes start.
func DaysBetween(start, end string, loc *time.Location) (int, error) {
	s, err := ParseDate(start, loc)
	if err != nil {
		return 0, err
	}
	e, err := ParseDate(end, loc)
	if err != nil {
		return 0, err
	}
	if e.Before(s) {
		return 0, fmt.Errorf("end date %s precedes start date %s", end, start)
	}
	// Count in UTC so a DST transition inside the range cannot shave a
	// partial day off the duration.
	su := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	eu := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, time.UTC)
	return int(eu.Sub(su).Hours()/24) + 1, nil
}
