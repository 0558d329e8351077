package recur

import (
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "hpcal/internal/log"
	"hpcal/internal/model"
)

const (
	defaultMaxOccurrences = 5000

	occurrenceSep = "-occurrence-"
)

// Expander turns recurring templates into concrete occurrences inside a
// view window.
type Expander struct {
	// MaxOccurrences caps the occurrences produced per template. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int

	// OnTruncate, if set, is called with the template ID when the cap is hit.
	OnTruncate func(templateID string)
}

// Expand is Expander{}.Expand without the error: a malformed rule is logged
// and the template is yielded once as a plain event.
func Expand(ev model.Event, w model.ViewWindow) iter.Seq[model.Event] {
	seq, _ := Expander{}.Expand(ev, w)
	return seq
}

// Expand returns the occurrences of ev whose date falls in w.
//
//   - No rule: the event is yielded unchanged.
//   - Valid rule: one single-day occurrence per generated date in w,
//     never before the anchor (ev.StartDate) nor after UNTIL, skipping
//     ev.ExceptionDates.
//   - Malformed rule: the template is yielded once with its rule cleared
//     and a *MalformedRuleError is returned for diagnostics.
//
// The sequence is lazy and may be iterated more than once.
func (x Expander) Expand(ev model.Event, w model.ViewWindow) (iter.Seq[model.Event], error) {
	if ev.RecurrenceRule == "" {
		return single(ev), nil
	}

	rule, err := Parse(ev.RecurrenceRule)
	if err != nil {
		appLog.Warn("recurrence rule rejected; using single occurrence",
			"id", ev.ID,
			"rule", ev.RecurrenceRule,
			"reason", err.Error(),
		)
		ev.RecurrenceRule = ""
		return single(ev), err
	}

	r, err := rrule.NewRRule(rule.ROption(ev.StartDate))
	if err != nil {
		appLog.Warn("recurrence rule rejected by rrule; using single occurrence", "id", ev.ID, "rule", ev.RecurrenceRule, "reason", err.Error())
		malformed := &MalformedRuleError{Rule: ev.RecurrenceRule, Reason: err.Error()}
		ev.RecurrenceRule = ""
		return single(ev), malformed
	}

	set := &rrule.Set{}
	set.RRule(r)
	for _, d := range ev.ExceptionDates {
		set.ExDate(model.DateOf(d))
	}

	limit := x.MaxOccurrences
	if limit <= 0 {
		limit = defaultMaxOccurrences
	}

	return func(yield func(model.Event) bool) {
		if !w.Valid() {
			return
		}
		next := set.Iterator()
		emitted := 0
		for {
			dt, ok := next()
			if !ok {
				return
			}
			day := model.DateOf(dt)
			if day.After(w.To) {
				return
			}
			if day.Before(w.From) {
				continue
			}
			if emitted == limit {
				appLog.Error("recurrence expansion truncated", errors.New("max occurrences reached"), "id", ev.ID, "cap", limit)
				if x.OnTruncate != nil {
					x.OnTruncate(ev.ID)
				}
				return
			}
			emitted++
			if !yield(Occurrence(ev, day)) {
				return
			}
		}
	}, nil
}

func single(ev model.Event) iter.Seq[model.Event] {
	return func(yield func(model.Event) bool) {
		yield(ev)
	}
}

// Occurrence is a shallow copy of the template moved to day. Occurrences
// are single-day; a timed template keeps its time of day.
func Occurrence(tmpl model.Event, day time.Time) model.Event {
	day = model.DateOf(day)
	occ := tmpl
	occ.ID = OccurrenceID(tmpl.ID, day)
	occ.TemplateID = tmpl.ID
	occ.ExceptionDates = nil
	occ.StartDate = day
	occ.EndDate = day
	if tmpl.StartDateTime != nil {
		start := shiftTo(*tmpl.StartDateTime, day)
		occ.StartDateTime = &start
	}
	if tmpl.EndDateTime != nil {
		end := shiftTo(*tmpl.EndDateTime, day)
		occ.EndDateTime = &end
	}
	return occ
}

func shiftTo(t time.Time, day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// OccurrenceID builds "{templateID}-occurrence-{YYYY-MM-DD}".
func OccurrenceID(templateID string, day time.Time) string {
	return templateID + occurrenceSep + model.FormatDate(day)
}

// SplitOccurrenceID reverses OccurrenceID so edits on an occurrence can be
// routed to its template.
func SplitOccurrenceID(id string) (string, time.Time, bool) {
	i := strings.LastIndex(id, occurrenceSep)
	if i < 0 {
		return "", time.Time{}, false
	}
	day, err := model.ParseDate(id[i+len(occurrenceSep):])
	if err != nil {
		return "", time.Time{}, false
	}
	return id[:i], day, true
}
