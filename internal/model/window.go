package model

import (
	"strings"
	"time"
)

// ViewWindow is the inclusive range of days currently rendered.
type ViewWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// NewWindow builds a window from two dates, truncating any clock part.
func NewWindow(from, to time.Time) ViewWindow {
	return ViewWindow{From: DateOf(from), To: DateOf(to)}
}

func (w ViewWindow) Valid() bool {
	return !w.From.IsZero() && !w.To.Before(w.From)
}

func (w ViewWindow) Contains(day time.Time) bool {
	day = DateOf(day)
	return !day.Before(w.From) && !day.After(w.To)
}

// Overlaps reports whether the inclusive range [start, end] shares at least
// one day with the window.
func (w ViewWindow) Overlaps(start, end time.Time) bool {
	return !end.Before(w.From) && !start.After(w.To)
}

// Days lists every date in the window.
func (w ViewWindow) Days() []time.Time {
	if !w.Valid() {
		return nil
	}
	n := DaysBetween(w.From, w.To) + 1
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, AddDays(w.From, i))
	}
	return days
}

// Weeks returns the start date of each 7-day block, beginning at From.
func (w ViewWindow) Weeks() []time.Time {
	if !w.Valid() {
		return nil
	}
	var starts []time.Time
	for d := w.From; !d.After(w.To); d = AddDays(d, 7) {
		starts = append(starts, d)
	}
	return starts
}

func (w ViewWindow) String() string {
	return FormatDate(w.From) + ".." + FormatDate(w.To)
}

// ParseWeekStart maps the config value ("monday" / "sunday") to a weekday.
func ParseWeekStart(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// StartOfWeek returns the first day of the week containing day.
func StartOfWeek(day time.Time, weekStart time.Weekday) time.Time {
	day = DateOf(day)
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return AddDays(day, -offset)
}

// WeekWindow is the single week containing day.
func WeekWindow(day time.Time, weekStart time.Weekday) ViewWindow {
	from := StartOfWeek(day, weekStart)
	return ViewWindow{From: from, To: AddDays(from, 6)}
}

// MonthWindow covers every full week that touches the given month, which is
// what a month grid renders.
func MonthWindow(year int, month time.Month, weekStart time.Weekday) ViewWindow {
	first := Date(year, month, 1)
	last := AddDays(first.AddDate(0, 1, 0), -1)
	from := StartOfWeek(first, weekStart)
	to := AddDays(StartOfWeek(last, weekStart), 6)
	return ViewWindow{From: from, To: to}
}
