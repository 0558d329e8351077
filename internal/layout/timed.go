package layout

import (
	"slices"
	"time"

	appLog "hpcal/internal/log"
	"hpcal/internal/model"
)

// TimedSlot places a timed event in a 24-hour column, as percentages of
// the column height.
type TimedSlot struct {
	Event     model.Event `json:"event"`
	TopPct    float64     `json:"top_pct"`
	HeightPct float64     `json:"height_pct"`
}

// DaySchedule is the time grid of one day.
type DaySchedule struct {
	Date  time.Time   `json:"date"`
	Slots []TimedSlot `json:"slots"`
}

func clockHours(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}

func clampPct(v float64) float64 {
	return max(0, min(100, v))
}

// Position converts a start/end clock time into top and height percentages
// of a 24-hour column. A reversed range has zero height.
func Position(start, end time.Time) (top, height float64) {
	top = clampPct(clockHours(start) / 24 * 100)
	height = (clockHours(end) - clockHours(start)) / 24 * 100
	return top, clampPct(height)
}

// PositionDay positions every timed event on day. Overlapping events are
// not packed; they simply share the column.
func PositionDay(events []model.Event, day time.Time) DaySchedule {
	day = model.DateOf(day)
	out := DaySchedule{Date: day, Slots: []TimedSlot{}}
	for _, ev := range events {
		if !ev.Timed() || ev.EndDateTime == nil || !ev.StartDate.Equal(day) {
			continue
		}
		top, height := Position(*ev.StartDateTime, *ev.EndDateTime)
		if ev.EndDateTime.Before(*ev.StartDateTime) {
			appLog.Warn("timed event ends before it starts", "id", ev.ID, "start", ev.StartDateTime.Format(time.RFC3339), "end", ev.EndDateTime.Format(time.RFC3339))
		}
		out.Slots = append(out.Slots, TimedSlot{Event: ev, TopPct: top, HeightPct: height})
	}
	slices.SortStableFunc(out.Slots, func(a, b TimedSlot) int {
		return a.Event.StartDateTime.Compare(*b.Event.StartDateTime)
	})
	return out
}

// PositionWindow runs PositionDay for every day of w.
func PositionWindow(events []model.Event, w model.ViewWindow) []DaySchedule {
	days := w.Days()
	out := make([]DaySchedule, 0, len(days))
	for _, d := range days {
		out = append(out, PositionDay(events, d))
	}
	return out
}
