package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO calendar-date format used on the wire.
const DateLayout = "2006-01-02"

// Date returns the calendar date y-m-d at 00:00 UTC. Dates are kept in UTC
// so day arithmetic never crosses a DST boundary.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateOf drops the clock part of t, keeping the wall-clock date in t's own
// location.
func DateOf(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses an ISO date. Surrounding whitespace is ignored.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

func AddDays(d time.Time, n int) time.Time {
	return d.AddDate(0, 0, n)
}

// DaysBetween returns b - a in whole days. Both are expected to be dates
// produced by Date/DateOf.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxDate(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// Clamp limits [start, end] to the window, reporting false when the two do
// not overlap.
func (w ViewWindow) Clamp(start, end time.Time) (time.Time, time.Time, bool) {
	if !w.Overlaps(start, end) {
		return time.Time{}, time.Time{}, false
	}
	return maxDate(start, w.From), minDate(end, w.To), true
}
