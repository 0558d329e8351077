package model

import "time"

// RawEvent is an event record exactly as a source supplies it. Dates are
// strings so that a broken record can be reported and dropped instead of
// failing the whole feed.
type RawEvent struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// StartDate / EndDate are ISO dates (YYYY-MM-DD), inclusive.
	StartDate string `yaml:"start_date" json:"start_date"`
	EndDate   string `yaml:"end_date,omitempty" json:"end_date,omitempty"`

	// StartDateTime / EndDateTime mark a timed event. RFC 3339, or a
	// local "2006-01-02T15:04" in the configured timezone.
	StartDateTime string `yaml:"start_date_time,omitempty" json:"start_date_time,omitempty"`
	EndDateTime   string `yaml:"end_date_time,omitempty" json:"end_date_time,omitempty"`

	Type      string `yaml:"type,omitempty" json:"type,omitempty"`
	Color     string `yaml:"color,omitempty" json:"color,omitempty"`
	IsHoliday bool   `yaml:"is_holiday,omitempty" json:"is_holiday,omitempty"`

	// RecurrenceRule uses the FREQ=..;INTERVAL=..[;UNTIL=YYYY-MM-DD] subset.
	RecurrenceRule string `yaml:"recurrence_rule,omitempty" json:"recurrence_rule,omitempty"`

	// ExceptionDates (YYYY-MM-DD) are dates the rule must skip: cancelled
	// instances and instances moved by an override record.
	ExceptionDates []string `yaml:"exception_dates,omitempty" json:"exception_dates,omitempty"`

	// Attendees is a comma-separated list of viewer identifiers. Empty means public.
	Attendees string `yaml:"attendees,omitempty" json:"attendees,omitempty"`
	Owner     string `yaml:"owner,omitempty" json:"owner,omitempty"`

	// Source is filled by the loader (e.g. "personal", "shared").
	Source string `yaml:"-" json:"source,omitempty"`
}

// Event is a normalized calendar event, either a template as supplied by a
// source or one concrete occurrence after recurrence expansion.
type Event struct {
	ID string `json:"id"`
	// TemplateID is set on expanded occurrences and points back at the
	// recurring record, for edit/delete routing.
	TemplateID string `json:"template_id,omitempty"`

	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	// StartDate / EndDate are calendar dates at 00:00 UTC, inclusive.
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	// StartDateTime / EndDateTime are set only for timed events and are
	// expressed in the configured display location.
	StartDateTime *time.Time `json:"start_date_time,omitempty"`
	EndDateTime   *time.Time `json:"end_date_time,omitempty"`

	Type      string `json:"type,omitempty"`
	Color     string `json:"color,omitempty"`
	IsHoliday bool   `json:"is_holiday"`

	RecurrenceRule string      `json:"recurrence_rule,omitempty"`
	ExceptionDates []time.Time `json:"exception_dates,omitempty"`
	Attendees      string      `json:"attendees,omitempty"`
	Owner          string      `json:"owner,omitempty"`
	Source         string      `json:"source,omitempty"`
}

// Timed reports whether the event carries a time of day.
func (e Event) Timed() bool {
	return e.StartDateTime != nil
}

// Days is the inclusive number of days the event covers.
func (e Event) Days() int {
	return DaysBetween(e.StartDate, e.EndDate) + 1
}

// Duration is EndDate - StartDate in days; zero for single-day events.
func (e Event) Duration() int {
	return DaysBetween(e.StartDate, e.EndDate)
}

// Personal reports whether the event belongs to the implicit "personal"
// category: no type and not a holiday.
func (e Event) Personal() bool {
	return e.Type == "" && !e.IsHoliday
}

// OccursOn reports whether day falls in [StartDate, EndDate].
func (e Event) OccursOn(day time.Time) bool {
	day = DateOf(day)
	return !day.Before(e.StartDate) && !day.After(e.EndDate)
}
