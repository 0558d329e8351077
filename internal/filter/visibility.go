package filter

import (
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"hpcal/internal/model"
)

// ErrAmbiguousAttendees marks a non-empty attendees string that does not
// parse into a clean identifier list.
var ErrAmbiguousAttendees = errors.New("ambiguous attendees list")

// ParseAttendees splits a comma-separated identifier list. An empty or blank
// string means the event is public and yields (nil, nil).
func ParseAttendees(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.IndexFunc(p, func(r rune) bool {
			return unicode.IsSpace(r) || unicode.IsControl(r)
		}) >= 0 {
			return nil, ErrAmbiguousAttendees
		}
		out = append(out, p)
	}
	return out, nil
}

// Visible reports whether viewer may see ev. Public events are visible to
// everyone; restricted events only to listed viewers. An event whose list
// cannot be parsed is visible to its owner only.
func Visible(ev model.Event, viewer string) bool {
	ok, _ := visibility(ev, viewer)
	return ok
}

func visibility(ev model.Event, viewer string) (bool, error) {
	attendees, err := ParseAttendees(ev.Attendees)
	if err != nil {
		return ev.Owner != "" && ev.Owner == viewer, err
	}
	if attendees == nil {
		return true, nil
	}
	return viewer != "" && lo.Contains(attendees, viewer), nil
}

// Stats counts what VisibleAndUnique removed.
type Stats struct {
	Hidden     int
	Ambiguous  int
	Duplicates int
}

type dedupKey struct {
	title, start, end string
}

// VisibleAndUnique drops events viewer may not see, collapses records that
// share title, start date and end date (first one wins), and orders the
// rest by start date with longer events first on ties. The input slice is
// not modified. Running it on its own output is a no-op.
func VisibleAndUnique(events []model.Event, viewer string) ([]model.Event, Stats) {
	var st Stats

	visible := lo.Filter(events, func(ev model.Event, _ int) bool {
		ok, err := visibility(ev, viewer)
		if err != nil {
			st.Ambiguous++
		}
		if !ok {
			st.Hidden++
		}
		return ok
	})

	unique := lo.UniqBy(visible, func(ev model.Event) dedupKey {
		return dedupKey{title: ev.Title, start: model.FormatDate(ev.StartDate), end: model.FormatDate(ev.EndDate)}
	})
	st.Duplicates = len(visible) - len(unique)

	SortByStart(unique)
	return unique, st
}

// SortByStart orders events by start date ascending, longer duration first
// on equal starts. The sort is stable.
func SortByStart(events []model.Event) {
	slices.SortStableFunc(events, func(a, b model.Event) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return b.Duration() - a.Duration()
	})
}
