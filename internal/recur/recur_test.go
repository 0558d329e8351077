package recur

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpcal/internal/model"
)

func d(y int, m time.Month, day int) time.Time {
	return model.Date(y, m, day)
}

func dates(seq func(func(model.Event) bool)) []string {
	var out []string
	for ev := range seq {
		out = append(out, model.FormatDate(ev.StartDate))
	}
	return out
}

func TestRuleRoundTrip(t *testing.T) {
	req := require.New(t)

	in := Rule{Freq: Weekly, Interval: 2, Until: d(2025, time.January, 1)}
	wire := in.String()
	req.Equal("FREQ=WEEKLY;INTERVAL=2;UNTIL=2025-01-01", wire)

	out, err := Parse(wire)
	req.NoError(err)
	req.Equal(in.Freq, out.Freq)
	req.Equal(in.Interval, out.Interval)
	req.True(in.Until.Equal(out.Until))

	for _, r := range []Rule{
		{Freq: Daily, Interval: 1},
		{Freq: Monthly, Interval: 3, Until: d(2026, time.June, 30)},
		{Freq: Yearly, Interval: 1, Until: d(2030, time.December, 31)},
	} {
		got, err := Parse(r.String())
		req.NoError(err)
		req.Equal(r, got)
	}
}

func TestParseLenientForms(t *testing.T) {
	cases := map[string]Rule{
		"RRULE:FREQ=DAILY;INTERVAL=3":                 {Freq: Daily, Interval: 3},
		"freq=weekly":                                 {Freq: Weekly, Interval: 1},
		"INTERVAL=2;FREQ=MONTHLY":                     {Freq: Monthly, Interval: 2},
		"FREQ=YEARLY;INTERVAL=1;UNTIL=20250301":       {Freq: Yearly, Interval: 1, Until: d(2025, time.March, 1)},
		"FREQ=WEEKLY;UNTIL=20250324T235959Z;":         {Freq: Weekly, Interval: 1, Until: d(2025, time.March, 24)},
		" FREQ=DAILY ; INTERVAL=1 ; UNTIL=2025-03-09": {Freq: Daily, Interval: 1, Until: d(2025, time.March, 9)},
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			got, err := Parse(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"RRULE:",
		"FREQ=HOURLY",
		"FREQ=WEEKLY;INTERVAL=0",
		"FREQ=WEEKLY;INTERVAL=two",
		"FREQ=WEEKLY;UNTIL=next tuesday",
		"FREQ=WEEKLY;BYDAY=MO",
		"INTERVAL=2",
		"FREQ=WEEKLY;FREQ=DAILY",
		"every week",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRule))
			var mre *MalformedRuleError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, in, mre.Rule)
		})
	}
}

func TestExpandWeeklyMeeting(t *testing.T) {
	req := require.New(t)

	tmpl := model.Event{
		ID:             "meeting",
		Title:          "Meeting",
		StartDate:      d(2025, time.March, 3),
		EndDate:        d(2025, time.March, 3),
		RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1;UNTIL=2025-03-24",
	}
	w := model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31))

	seq, err := Expander{}.Expand(tmpl, w)
	req.NoError(err)

	var got []model.Event
	for ev := range seq {
		got = append(got, ev)
	}
	req.Len(got, 4)
	req.Equal([]string{"2025-03-03", "2025-03-10", "2025-03-17", "2025-03-24"}, dates(seq))
	req.Equal("meeting-occurrence-2025-03-10", got[1].ID)
	req.Equal("meeting", got[1].TemplateID)
	req.Equal("Meeting", got[1].Title)
	for _, occ := range got {
		req.Equal(time.Monday, occ.StartDate.Weekday())
		req.Equal(occ.StartDate, occ.EndDate)
	}
}

func TestExpandSkipsExceptionDates(t *testing.T) {
	tmpl := model.Event{
		ID:             "meeting",
		Title:          "Meeting",
		StartDate:      d(2025, time.March, 3),
		EndDate:        d(2025, time.March, 3),
		RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1;UNTIL=2025-03-24",
		ExceptionDates: []time.Time{d(2025, time.March, 10), d(2025, time.March, 17), d(2025, time.April, 7)},
	}
	w := model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31))

	seq, err := Expander{}.Expand(tmpl, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-03-03", "2025-03-24"}, dates(seq))
	for occ := range seq {
		assert.Nil(t, occ.ExceptionDates)
	}
}

func TestExpandRecurrenceBound(t *testing.T) {
	rules := []string{
		"FREQ=DAILY;INTERVAL=1",
		"FREQ=DAILY;INTERVAL=3;UNTIL=2025-04-10",
		"FREQ=WEEKLY;INTERVAL=2",
		"FREQ=MONTHLY;INTERVAL=1;UNTIL=2025-05-15",
		"FREQ=YEARLY;INTERVAL=1",
	}
	w := model.NewWindow(d(2025, time.April, 1), d(2025, time.June, 30))
	for _, rule := range rules {
		t.Run(rule, func(t *testing.T) {
			parsed, err := Parse(rule)
			require.NoError(t, err)

			tmpl := model.Event{ID: "x", StartDate: d(2024, time.February, 29), EndDate: d(2024, time.February, 29), RecurrenceRule: rule}
			for occ := range Expand(tmpl, w) {
				assert.False(t, occ.StartDate.Before(w.From), occ.ID)
				assert.False(t, occ.StartDate.After(w.To), occ.ID)
				assert.False(t, occ.StartDate.Before(tmpl.StartDate), occ.ID)
				if !parsed.Until.IsZero() {
					assert.False(t, occ.StartDate.After(parsed.Until), occ.ID)
				}
			}
		})
	}
}

func TestExpandNeverBeforeAnchor(t *testing.T) {
	tmpl := model.Event{ID: "x", StartDate: d(2025, time.March, 20), EndDate: d(2025, time.March, 20), RecurrenceRule: "FREQ=DAILY;INTERVAL=1"}
	w := model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 22))
	assert.Equal(t, []string{"2025-03-20", "2025-03-21", "2025-03-22"}, dates(Expand(tmpl, w)))
}

func TestExpandMonthlySkipsShortMonths(t *testing.T) {
	tmpl := model.Event{ID: "rent", StartDate: d(2025, time.January, 31), EndDate: d(2025, time.January, 31), RecurrenceRule: "FREQ=MONTHLY;INTERVAL=1"}
	w := model.NewWindow(d(2025, time.January, 1), d(2025, time.July, 31))
	assert.Equal(t, []string{"2025-01-31", "2025-03-31", "2025-05-31", "2025-07-31"}, dates(Expand(tmpl, w)))
}

func TestExpandYearlyAndInterval(t *testing.T) {
	tmpl := model.Event{ID: "y", StartDate: d(2020, time.May, 5), EndDate: d(2020, time.May, 5), RecurrenceRule: "FREQ=YEARLY;INTERVAL=2"}
	w := model.NewWindow(d(2020, time.January, 1), d(2026, time.December, 31))
	assert.Equal(t, []string{"2020-05-05", "2022-05-05", "2024-05-05", "2026-05-05"}, dates(Expand(tmpl, w)))

	daily := model.Event{ID: "d", StartDate: d(2025, time.March, 1), EndDate: d(2025, time.March, 1), RecurrenceRule: "FREQ=DAILY;INTERVAL=10"}
	w = model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31))
	assert.Equal(t, []string{"2025-03-01", "2025-03-11", "2025-03-21", "2025-03-31"}, dates(Expand(daily, w)))
}

func TestExpandMultiDayTemplateYieldsSingleDayOccurrences(t *testing.T) {
	tmpl := model.Event{ID: "camp", StartDate: d(2025, time.March, 3), EndDate: d(2025, time.March, 5), RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1"}
	w := model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 16))
	for occ := range Expand(tmpl, w) {
		assert.Equal(t, occ.StartDate, occ.EndDate)
	}
	assert.Len(t, dates(Expand(tmpl, w)), 2)
}

func TestExpandTimedKeepsTimeOfDay(t *testing.T) {
	req := require.New(t)
	loc := time.FixedZone("KST", 9*3600)
	start := time.Date(2025, time.March, 4, 9, 30, 0, 0, loc)
	end := time.Date(2025, time.March, 4, 10, 45, 0, 0, loc)
	tmpl := model.Event{
		ID: "lab", StartDate: d(2025, time.March, 4), EndDate: d(2025, time.March, 4),
		StartDateTime: &start, EndDateTime: &end,
		RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1;UNTIL=2025-03-11",
	}
	var got []model.Event
	for occ := range Expand(tmpl, model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31))) {
		got = append(got, occ)
	}
	req.Len(got, 2)
	second := got[1]
	req.Equal(time.Date(2025, time.March, 11, 9, 30, 0, 0, loc), *second.StartDateTime)
	req.Equal(time.Date(2025, time.March, 11, 10, 45, 0, 0, loc), *second.EndDateTime)
	// template is untouched
	req.Equal(start, *tmpl.StartDateTime)
}

func TestExpandWithoutRuleIsIdentity(t *testing.T) {
	ev := model.Event{ID: "plain", Title: "Plain", StartDate: d(2025, time.March, 3), EndDate: d(2025, time.March, 4)}
	seq, err := Expander{}.Expand(ev, model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31)))
	require.NoError(t, err)
	got := slices.Collect(seq)
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])
}

func TestExpandMalformedFallsBackToSingle(t *testing.T) {
	req := require.New(t)
	ev := model.Event{ID: "bad", StartDate: d(2025, time.March, 3), EndDate: d(2025, time.March, 3), RecurrenceRule: "FREQ=SOMETIMES"}

	seq, err := Expander{}.Expand(ev, model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31)))
	req.ErrorIs(err, ErrMalformedRule)
	got := slices.Collect(seq)
	req.Len(got, 1)
	req.Equal("bad", got[0].ID)
	req.Empty(got[0].RecurrenceRule)
}

func TestExpandCap(t *testing.T) {
	var truncated []string
	x := Expander{MaxOccurrences: 5, OnTruncate: func(id string) { truncated = append(truncated, id) }}
	tmpl := model.Event{ID: "daily", StartDate: d(2025, time.March, 1), EndDate: d(2025, time.March, 1), RecurrenceRule: "FREQ=DAILY;INTERVAL=1"}

	seq, err := x.Expand(tmpl, model.NewWindow(d(2025, time.March, 1), d(2025, time.March, 31)))
	require.NoError(t, err)
	assert.Len(t, slices.Collect(seq), 5)
	assert.Equal(t, []string{"daily"}, truncated)
}

func TestSplitOccurrenceID(t *testing.T) {
	id := OccurrenceID("team-occurrence-sync", d(2025, time.March, 10))
	tmpl, day, ok := SplitOccurrenceID(id)
	require.True(t, ok)
	assert.Equal(t, "team-occurrence-sync", tmpl)
	assert.Equal(t, d(2025, time.March, 10), day)

	_, _, ok = SplitOccurrenceID("plain-id")
	assert.False(t, ok)
	_, _, ok = SplitOccurrenceID("x-occurrence-soon")
	assert.False(t, ok)
}
