package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDate marks a record whose dates cannot be used. Such records are
// dropped from the working set, never propagated as a failure.
var ErrInvalidDate = errors.New("invalid date")

// InvalidDateError carries the offending record and field.
type InvalidDateError struct {
	EventID string
	Field   string
	Value   string
	Reason  string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("event %q: invalid %s %q: %s", e.EventID, e.Field, e.Value, e.Reason)
}

func (e *InvalidDateError) Unwrap() error {
	return ErrInvalidDate
}

var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseDateTime parses an RFC 3339 timestamp or a local date-time in loc.
// The result is always expressed in loc.
func ParseDateTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date-time")
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date-time %q", s)
}

// Normalize converts a raw record into an Event, normalizing timed fields
// into loc. It returns an *InvalidDateError when the record's dates are
// missing, unparsable or inconsistent.
func Normalize(raw RawEvent, loc *time.Location) (Event, error) {
	if loc == nil {
		loc = time.Local
	}

	ev := Event{
		ID:             raw.ID,
		Title:          raw.Title,
		Description:    raw.Description,
		Type:           strings.TrimSpace(raw.Type),
		Color:          strings.TrimSpace(raw.Color),
		IsHoliday:      raw.IsHoliday,
		RecurrenceRule: strings.TrimSpace(raw.RecurrenceRule),
		Attendees:      raw.Attendees,
		Owner:          strings.TrimSpace(raw.Owner),
		Source:         raw.Source,
	}

	invalid := func(field, value, reason string) (Event, error) {
		return Event{}, &InvalidDateError{EventID: raw.ID, Field: field, Value: value, Reason: reason}
	}

	for _, v := range raw.ExceptionDates {
		d, err := ParseDate(v)
		if err != nil {
			return invalid("exception_dates", v, err.Error())
		}
		ev.ExceptionDates = append(ev.ExceptionDates, d)
	}

	hasStartDT := strings.TrimSpace(raw.StartDateTime) != ""
	hasEndDT := strings.TrimSpace(raw.EndDateTime) != ""
	if hasStartDT != hasEndDT {
		return invalid("end_date_time", raw.EndDateTime, "timed events need both start and end date-time")
	}

	if hasStartDT {
		start, err := ParseDateTime(raw.StartDateTime, loc)
		if err != nil {
			return invalid("start_date_time", raw.StartDateTime, err.Error())
		}
		end, err := ParseDateTime(raw.EndDateTime, loc)
		if err != nil {
			return invalid("end_date_time", raw.EndDateTime, err.Error())
		}
		day := DateOf(start)
		if !DateOf(end).Equal(day) {
			return invalid("end_date_time", raw.EndDateTime, "timed event must end on its start day")
		}
		for _, f := range [...]struct{ name, value string }{
			{"start_date", raw.StartDate},
			{"end_date", raw.EndDate},
		} {
			if strings.TrimSpace(f.value) == "" {
				continue
			}
			d, err := ParseDate(f.value)
			if err != nil {
				return invalid(f.name, f.value, err.Error())
			}
			if !d.Equal(day) {
				return invalid(f.name, f.value, "date does not match date-time")
			}
		}
		ev.StartDate, ev.EndDate = day, day
		ev.StartDateTime, ev.EndDateTime = &start, &end
		return ev, nil
	}

	start, err := ParseDate(raw.StartDate)
	if err != nil {
		return invalid("start_date", raw.StartDate, err.Error())
	}
	end := start
	if strings.TrimSpace(raw.EndDate) != "" {
		end, err = ParseDate(raw.EndDate)
		if err != nil {
			return invalid("end_date", raw.EndDate, err.Error())
		}
	}
	if end.Before(start) {
		return invalid("end_date", raw.EndDate, "end date before start date")
	}
	ev.StartDate, ev.EndDate = start, end
	return ev, nil
}
