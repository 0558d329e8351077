package ics

import (
	"bytes"
	"errors"
	"slices"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "hpcal/internal/log"
	"hpcal/internal/model"
	"hpcal/internal/recur"
)

// HolidayCategory is the CATEGORIES value that marks a holiday.
const HolidayCategory = "holiday"

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propExDate       = ical.ComponentProperty("EXDATE")
	propStatus       = ical.ComponentProperty("STATUS")
)

// Parse converts the VEVENTs of one feed into raw records. Timed values are
// rendered in loc so that a meeting crossing midnight there can be turned
// into an all-day span. Broken VEVENTs are logged and skipped.
//
// A VEVENT carrying RECURRENCE-ID becomes a standalone record with the
// occurrence id of the slot it replaces, and that slot is added to the
// series' exception dates. A cancelled override only adds the exception.
func Parse(feed Feed, body []byte, loc *time.Location) ([]model.RawEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", feed.ID, "url", redactURL(feed.URL))
		return nil, err
	}

	events := make([]model.RawEvent, 0)
	replaced := make(map[string][]string)
	for _, ve := range cal.Events() {
		raw, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", feed.ID, "url", redactURL(feed.URL))
			continue
		}
		if rid := ve.GetProperty(propRecurrenceID); rid != nil {
			day, err := icsDate(rid, rid.Value, loc)
			if err != nil {
				appLog.Warn("ics override with bad RECURRENCE-ID skipped", "id", feed.ID, "uid", raw.ID, "value", rid.Value)
				continue
			}
			replaced[raw.ID] = append(replaced[raw.ID], model.FormatDate(day))
			if strings.EqualFold(propValue(ve, propStatus), "CANCELLED") {
				continue
			}
			raw.ID = recur.OccurrenceID(raw.ID, day)
			raw.RecurrenceRule = ""
			raw.ExceptionDates = nil
		}
		events = append(events, raw)
	}
	events = applyOverrides(events, replaced)

	appLog.Info("ics parse completed", "id", feed.ID, "url", redactURL(feed.URL), "event_count", len(events))
	return events, nil
}

// applyOverrides adds replaced slots to their series. A non-recurring master
// whose own date was replaced is dropped.
func applyOverrides(events []model.RawEvent, replaced map[string][]string) []model.RawEvent {
	if len(replaced) == 0 {
		return events
	}
	out := events[:0]
	for _, ev := range events {
		days, ok := replaced[ev.ID]
		switch {
		case !ok:
		case ev.RecurrenceRule != "":
			ev.ExceptionDates = appendMissing(ev.ExceptionDates, days)
		case slices.Contains(days, ev.StartDate) || slices.Contains(days, dateOfTimed(ev.StartDateTime)):
			continue
		}
		out = append(out, ev)
	}
	return out
}

func appendMissing(dst, days []string) []string {
	for _, d := range days {
		if !slices.Contains(dst, d) {
			dst = append(dst, d)
		}
	}
	return dst
}

func dateOfTimed(s string) string {
	if len(s) < len("2006-01-02") {
		return ""
	}
	return s[:len("2006-01-02")]
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.RawEvent, error) {
	var out model.RawEvent

	out.ID = propValue(ve, ical.ComponentPropertyUniqueId)
	if out.ID == "" {
		return out, errors.New("missing UID")
	}
	out.Title = unescape(propValue(ve, ical.ComponentPropertySummary))
	out.Description = unescape(propValue(ve, ical.ComponentPropertyDescription))
	out.Color = propValue(ve, ical.ComponentPropertyColor)

	if cats := propValue(ve, ical.ComponentPropertyCategories); cats != "" {
		first, _, _ := strings.Cut(cats, ",")
		first = strings.ToLower(strings.TrimSpace(first))
		if first == HolidayCategory {
			out.IsHoliday = true
		} else {
			out.Type = first
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}

	if isDateValue(dtStart) {
		start, err := time.Parse("20060102", dtStart.Value)
		if err != nil {
			return out, err
		}
		end := start
		// DTEND of an all-day event is exclusive.
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
			if e, err := time.Parse("20060102", strings.TrimSpace(dtEnd.Value)); err == nil && e.After(start) {
				end = model.AddDays(e, -1)
			}
		}
		out.StartDate = model.FormatDate(start)
		out.EndDate = model.FormatDate(end)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		setTimed(&out, start.In(loc), end.In(loc))
	}

	if rule := propValue(ve, ical.ComponentPropertyRrule); rule != "" {
		out.RecurrenceRule = supportedRule(out.ID, rule)
		for _, p := range ve.GetProperties(propExDate) {
			for _, v := range strings.Split(p.Value, ",") {
				day, err := icsDate(p, v, loc)
				if err != nil {
					appLog.Warn("ics EXDATE ignored", "uid", out.ID, "value", v)
					continue
				}
				out.ExceptionDates = appendMissing(out.ExceptionDates, []string{model.FormatDate(day)})
			}
		}
	}

	var attendees []string
	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		if a := stripMailto(p.Value); a != "" {
			attendees = append(attendees, a)
		}
	}
	out.Attendees = strings.Join(attendees, ",")
	out.Owner = stripMailto(propValue(ve, ical.ComponentPropertyOrganizer))

	return out, nil
}

// setTimed stores a timed range, falling back to an all-day span when the
// range crosses midnight in the display zone. An end at exactly the next
// midnight stays on the start day.
func setTimed(out *model.RawEvent, start, end time.Time) {
	day := model.DateOf(start)
	lastDay := model.DateOf(end)
	if end.After(start) {
		lastDay = model.DateOf(end.Add(-time.Nanosecond))
	}
	if !lastDay.Equal(day) {
		out.StartDate = model.FormatDate(day)
		out.EndDate = model.FormatDate(lastDay)
		return
	}
	if !model.DateOf(end).Equal(day) {
		end = time.Date(start.Year(), start.Month(), start.Day(), 23, 59, 0, 0, start.Location())
	}
	out.StartDateTime = start.Format(time.RFC3339)
	out.EndDateTime = end.Format(time.RFC3339)
}

// supportedRule reduces an RFC 5545 RRULE to the FREQ/INTERVAL/UNTIL subset.
// Other parts are dropped; an unusable rule is passed through so that the
// expander reports it.
func supportedRule(uid, rule string) string {
	var kept, dropped []string
	for _, part := range strings.Split(rule, ";") {
		key, _, _ := strings.Cut(part, "=")
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "FREQ", "INTERVAL", "UNTIL":
			kept = append(kept, strings.TrimSpace(part))
		case "":
		default:
			dropped = append(dropped, part)
		}
	}
	if len(dropped) > 0 {
		appLog.Debug("ics rrule parts dropped", "uid", uid, "dropped", strings.Join(dropped, ";"))
	}
	reduced := strings.Join(kept, ";")
	r, err := recur.Parse(reduced)
	if err != nil {
		return rule
	}
	return r.String()
}

// icsDate reads one DATE or DATE-TIME value of p as a calendar date in loc.
// A DATE-TIME honours a trailing Z or the property's TZID, else it is
// floating in loc.
func icsDate(p *ical.IANAProperty, v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if !strings.Contains(v, "T") {
		return time.Parse("20060102", v)
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, err
		}
		return model.DateOf(t.In(loc)), nil
	}
	zone := loc
	if tz, ok := p.ICalParameters["TZID"]; ok && len(tz) > 0 {
		if l, err := time.LoadLocation(tz[0]); err == nil {
			zone = l
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, zone)
	if err != nil {
		return time.Time{}, err
	}
	return model.DateOf(t.In(loc)), nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func stripMailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		v = v[7:]
	}
	return strings.TrimSpace(v)
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescape(s string) string {
	return textUnescaper.Replace(s)
}
