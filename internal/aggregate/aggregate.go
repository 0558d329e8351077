package aggregate

import (
	"errors"
	"time"

	"hpcal/internal/filter"
	"hpcal/internal/layout"
	appLog "hpcal/internal/log"
	"hpcal/internal/model"
	"hpcal/internal/palette"
	"hpcal/internal/recur"
)

// Mode selects which layouts Aggregate computes besides the flat list.
type Mode string

const (
	ModeAgenda Mode = "agenda"
	ModeMonth  Mode = "month"
	ModeWeek   Mode = "week"
)

// ParseMode maps a query/flag value to a Mode, defaulting to agenda.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeMonth, ModeWeek:
		return Mode(s)
	default:
		return ModeAgenda
	}
}

// Source labels stamped on records that arrive without one.
const (
	SourcePersonal = "personal"
	SourceShared   = "shared"
)

type Options struct {
	// Location is the display timezone timed records are normalized into.
	// If nil, time.Local is used.
	Location *time.Location
	// MaxLanes caps visible all-day lanes per day cell.
	MaxLanes int
	// MaxOccurrences caps recurrence expansion per template.
	MaxOccurrences int
	Filter         filter.Options
	// Palette resolves display colors; nil leaves colors untouched.
	Palette *palette.Resolver
}

// Request is everything one recompute needs. Callers build a new one
// whenever the records, the window or the viewer's filters change.
type Request struct {
	Personal []model.RawEvent
	Shared   []model.RawEvent
	Window   model.ViewWindow
	Viewer   string
	Criteria filter.Criteria
	Mode     Mode
}

// Result is the output of one recompute. Nothing in it is cached.
type Result struct {
	Window model.ViewWindow `json:"window"`
	// Events is the deduplicated, access-filtered, search-filtered list.
	Events []model.Event `json:"events"`
	// Weeks holds the all-day lane layout of each week (month/week modes).
	Weeks []layout.WeekLayout `json:"weeks,omitempty"`
	// Days holds timed positions per day (week mode).
	Days        []layout.DaySchedule `json:"days,omitempty"`
	Diagnostics Diagnostics          `json:"diagnostics"`
}

// Aggregator runs the pipeline: normalize, expand, scope to the window,
// merge, visibility and dedup, search, colors, layout. It holds no state
// between calls and is safe for concurrent use.
type Aggregator struct {
	opts Options
}

func New(opts Options) *Aggregator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Aggregator{opts: opts}
}

// Aggregate never fails: bad records are dropped or degraded and reported
// in Result.Diagnostics.
func (a *Aggregator) Aggregate(req Request) Result {
	res := Result{Window: req.Window, Events: []model.Event{}}
	diag := &res.Diagnostics

	if !req.Window.Valid() {
		appLog.Warn("aggregate: invalid view window", "from", req.Window.From, "to", req.Window.To)
		diag.add(Issue{Kind: IssueInvalidWindow, Detail: req.Window.String()})
		return res
	}

	merged := a.collect(req.Personal, SourcePersonal, req.Window, diag)
	merged = append(merged, a.collect(req.Shared, SourceShared, req.Window, diag)...)

	visible, st := filter.VisibleAndUnique(merged, req.Viewer)
	diag.AmbiguousVisibility = st.Ambiguous
	diag.Hidden = st.Hidden
	diag.Duplicates = st.Duplicates
	if st.Ambiguous > 0 {
		appLog.Warn("aggregate: events with ambiguous attendees", "count", st.Ambiguous, "viewer", req.Viewer)
	}

	events := filter.Search(visible, req.Criteria, a.opts.Filter)
	if a.opts.Palette != nil {
		events = a.opts.Palette.Apply(events)
	}
	res.Events = events

	lopts := layout.Options{MaxLanes: a.opts.MaxLanes}
	switch req.Mode {
	case ModeMonth:
		res.Weeks = layout.LayoutWindow(events, req.Window, lopts)
	case ModeWeek:
		res.Weeks = layout.LayoutWindow(events, req.Window, lopts)
		res.Days = layout.PositionWindow(events, req.Window)
	}

	appLog.Debug("aggregate completed",
		"window", req.Window.String(),
		"viewer", req.Viewer,
		"mode", string(req.Mode),
		"input", len(req.Personal)+len(req.Shared),
		"events", len(res.Events),
		"invalid_dates", diag.InvalidDates,
		"malformed_rules", diag.MalformedRules,
		"duplicates", diag.Duplicates,
	)
	return res
}

// collect normalizes and expands one source's records, keeping only what
// falls inside w.
func (a *Aggregator) collect(raws []model.RawEvent, source string, w model.ViewWindow, diag *Diagnostics) []model.Event {
	out := make([]model.Event, 0, len(raws))
	expander := recur.Expander{
		MaxOccurrences: a.opts.MaxOccurrences,
		OnTruncate: func(id string) {
			diag.add(Issue{Kind: IssueTruncated, EventID: id, Source: source})
		},
	}

	for _, raw := range raws {
		if raw.Source == "" {
			raw.Source = source
		}
		ev, err := model.Normalize(raw, a.opts.Location)
		if err != nil {
			appLog.Warn("aggregate: dropping event with invalid date", "id", raw.ID, "source", raw.Source, "reason", err.Error())
			diag.add(Issue{Kind: IssueInvalidDate, EventID: raw.ID, Source: raw.Source, Detail: err.Error()})
			continue
		}

		seq, err := expander.Expand(ev, w)
		if err != nil {
			var mre *recur.MalformedRuleError
			detail := err.Error()
			if errors.As(err, &mre) {
				detail = mre.Reason
			}
			diag.add(Issue{Kind: IssueMalformedRule, EventID: ev.ID, Source: ev.Source, Detail: detail})
		}
		for occ := range seq {
			if w.Overlaps(occ.StartDate, occ.EndDate) {
				out = append(out, occ)
			}
		}
	}
	return out
}
