package ics

import (
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"hpcal/internal/model"
	"hpcal/internal/recur"
)

const productID = "-//hpcal//calendar export//KO"

// Export renders events as a VCALENDAR. Occurrences are exported as
// individual VEVENTs, so the output never carries RRULEs for them.
func Export(events []model.Event, name string) string {
	return export(events, name, time.Now().UTC())
}

func export(events []model.Event, name string, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}

		if ev.Timed() {
			ve.SetStartAt(ev.StartDateTime.UTC())
			ve.SetEndAt(ev.EndDateTime.UTC())
		} else {
			ve.SetAllDayStartAt(ev.StartDate)
			ve.SetAllDayEndAt(model.AddDays(ev.EndDate, 1))
		}

		switch {
		case ev.IsHoliday:
			ve.SetProperty(ical.ComponentPropertyCategories, HolidayCategory)
		case ev.Type != "":
			ve.SetProperty(ical.ComponentPropertyCategories, ev.Type)
		}
		if ev.Color != "" {
			ve.SetProperty(ical.ComponentPropertyColor, ev.Color)
		}
		if ev.TemplateID == "" && ev.RecurrenceRule != "" {
			if r, err := recur.Parse(ev.RecurrenceRule); err == nil {
				ve.AddRrule(rfcRule(r))
			}
			if len(ev.ExceptionDates) > 0 {
				dates := make([]string, len(ev.ExceptionDates))
				for i, d := range ev.ExceptionDates {
					dates[i] = d.Format("20060102")
				}
				ve.AddProperty(propExDate, strings.Join(dates, ","), &ical.KeyValues{Key: "VALUE", Value: []string{"DATE"}})
			}
		}
		for _, a := range strings.Split(ev.Attendees, ",") {
			if a = strings.TrimSpace(a); a != "" {
				ve.AddAttendee(a)
			}
		}
		if ev.Owner != "" {
			ve.SetOrganizer(ev.Owner)
		}
	}
	return cal.Serialize()
}

// rfcRule writes UNTIL in the RFC 5545 basic date form.
func rfcRule(r recur.Rule) string {
	s := "FREQ=" + string(r.Freq) + ";INTERVAL=" + strconv.Itoa(max(r.Interval, 1))
	if !r.Until.IsZero() {
		s += ";UNTIL=" + r.Until.Format("20060102")
	}
	return s
}
