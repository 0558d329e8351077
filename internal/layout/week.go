package layout

import (
	"slices"
	"time"

	"hpcal/internal/model"
)

// DefaultMaxLanes is the number of lanes a day cell shows before the rest
// are folded into a "+N more" count.
const DefaultMaxLanes = 3

const daysPerWeek = 7

type Options struct {
	// MaxLanes caps visible lanes per day. Zero or negative means DefaultMaxLanes.
	MaxLanes int
}

func (o Options) maxLanes() int {
	if o.MaxLanes <= 0 {
		return DefaultMaxLanes
	}
	return o.MaxLanes
}

// Placement is one all-day event packed into a week.
type Placement struct {
	Event model.Event `json:"event"`
	Lane  int         `json:"lane"`

	// Start / End are the event's dates clamped to the week; the block is
	// drawn across Span = End - Start + 1 days.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Span  int       `json:"span"`

	// ContinuesLeft: the event started before the week.
	// ContinuesRight: the event ends after the week.
	ContinuesLeft  bool `json:"continues_left"`
	ContinuesRight bool `json:"continues_right"`

	// Hidden placements sit at or above the lane cap and only show up in
	// the overflow count and DayCell.All.
	Hidden bool `json:"hidden"`
}

// Slot is one lane of one day. A nil Event is a hole left by a taller
// neighbour on another day.
type Slot struct {
	Event *model.Event `json:"event,omitempty"`
	Lane  int          `json:"lane"`

	// Head marks the first day of the event's run in this week; the
	// renderer draws the block there and skips the covered days after it.
	Head bool `json:"head"`
	// Span is the number of run days left from this day, Head included.
	Span int `json:"span,omitempty"`

	ContinuesLeft  bool `json:"continues_left,omitempty"`
	ContinuesRight bool `json:"continues_right,omitempty"`
}

func (s Slot) Empty() bool {
	return s.Event == nil
}

// Covered reports a slot whose block is drawn by an earlier day's head.
func (s Slot) Covered() bool {
	return s.Event != nil && !s.Head
}

// DayCell is the lane stack of one day.
type DayCell struct {
	Date time.Time `json:"date"`
	// Lanes holds every lane up to the highest one used on this day.
	Lanes []Slot `json:"lanes"`
	// Visible is Lanes cut at the lane cap.
	Visible []Slot `json:"visible"`
	// Overflow counts events in lanes at or above the cap ("+N more").
	Overflow int `json:"overflow"`
	// All lists every all-day event on this day in lane order.
	All []model.Event `json:"all"`
}

// WeekLayout is the packed all-day area of one 7-day row.
type WeekLayout struct {
	Start      time.Time   `json:"start"`
	End        time.Time   `json:"end"`
	LaneCount  int         `json:"lane_count"`
	MaxLanes   int         `json:"max_lanes"`
	Placements []Placement `json:"placements"`
	Days       []DayCell   `json:"days"`
}

// Lane returns the lane assigned to the event with the given ID.
func (w WeekLayout) Lane(id string) (int, bool) {
	for _, p := range w.Placements {
		if p.Event.ID == id {
			return p.Lane, true
		}
	}
	return 0, false
}

// Day returns the cell for date, if it is in the week.
func (w WeekLayout) Day(date time.Time) (DayCell, bool) {
	i := model.DaysBetween(w.Start, date)
	if i < 0 || i >= len(w.Days) {
		return DayCell{}, false
	}
	return w.Days[i], true
}

// LayoutWeek packs the all-day events overlapping the week starting at
// weekStart into lanes with greedy first-fit. Timed events are ignored;
// see PositionDay. The result depends only on the input order of events
// that tie on both effective start and duration.
func LayoutWeek(events []model.Event, weekStart time.Time, opts Options) WeekLayout {
	weekStart = model.DateOf(weekStart)
	week := model.ViewWindow{From: weekStart, To: model.AddDays(weekStart, daysPerWeek-1)}
	limit := opts.maxLanes()

	placements := make([]Placement, 0)
	for _, ev := range events {
		if ev.Timed() {
			continue
		}
		start, end, ok := week.Clamp(ev.StartDate, ev.EndDate)
		if !ok {
			continue
		}
		placements = append(placements, Placement{
			Event:          ev,
			Start:          start,
			End:            end,
			Span:           model.DaysBetween(start, end) + 1,
			ContinuesLeft:  ev.StartDate.Before(start),
			ContinuesRight: ev.EndDate.After(end),
		})
	}

	slices.SortStableFunc(placements, func(a, b Placement) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return b.Event.Duration() - a.Event.Duration()
	})

	// laneFree[i] is the first day lane i is free again.
	var laneFree []time.Time
	for i := range placements {
		p := &placements[i]
		lane := -1
		for l, free := range laneFree {
			if !free.After(p.Start) {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(laneFree)
			laneFree = append(laneFree, time.Time{})
		}
		laneFree[lane] = model.AddDays(p.End, 1)
		p.Lane = lane
		p.Hidden = lane >= limit
	}

	out := WeekLayout{
		Start:      week.From,
		End:        week.To,
		LaneCount:  len(laneFree),
		MaxLanes:   limit,
		Placements: placements,
		Days:       make([]DayCell, daysPerWeek),
	}
	for i := range out.Days {
		out.Days[i] = buildDay(model.AddDays(week.From, i), out.Placements, limit)
	}
	return out
}

func buildDay(date time.Time, placements []Placement, limit int) DayCell {
	cell := DayCell{Date: date, Lanes: []Slot{}, Visible: []Slot{}, All: []model.Event{}}

	for i := range placements {
		p := &placements[i]
		if date.Before(p.Start) || date.After(p.End) {
			continue
		}
		for len(cell.Lanes) <= p.Lane {
			cell.Lanes = append(cell.Lanes, Slot{Lane: len(cell.Lanes)})
		}
		cell.Lanes[p.Lane] = Slot{
			Event:          &p.Event,
			Lane:           p.Lane,
			Head:           date.Equal(p.Start),
			Span:           model.DaysBetween(date, p.End) + 1,
			ContinuesLeft:  p.Event.StartDate.Before(date),
			ContinuesRight: p.ContinuesRight,
		}
		if p.Lane >= limit {
			cell.Overflow++
		}
	}

	for _, s := range cell.Lanes {
		if s.Event != nil {
			cell.All = append(cell.All, *s.Event)
		}
	}
	cell.Visible = cell.Lanes[:min(limit, len(cell.Lanes))]
	return cell
}

// LayoutWindow packs every week of the window, e.g. the 5 or 6 rows of a
// month grid.
func LayoutWindow(events []model.Event, w model.ViewWindow, opts Options) []WeekLayout {
	starts := w.Weeks()
	out := make([]WeekLayout, 0, len(starts))
	for _, start := range starts {
		out = append(out, LayoutWeek(events, start, opts))
	}
	return out
}
