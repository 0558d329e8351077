package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"

	"hpcal/internal/aggregate"
	"hpcal/internal/model"
)

var weekdayKO = [7]string{"일", "월", "화", "수", "목", "금", "토"}

type agendaRow struct {
	cells   []string
	holiday bool
}

func agendaRows(res aggregate.Result, loc *time.Location) []agendaRow {
	rows := make([]agendaRow, 0, len(res.Events))
	for _, ev := range res.Events {
		when := fmt.Sprintf("%s (%s)", ev.StartDate.Format("01-02"), weekdayKO[ev.StartDate.Weekday()])
		if !ev.EndDate.Equal(ev.StartDate) {
			when += " ~ " + ev.EndDate.Format("01-02")
		}
		clock := "종일"
		if ev.Timed() {
			clock = ev.StartDateTime.In(loc).Format("15:04") + "-" + ev.EndDateTime.In(loc).Format("15:04")
		}
		kind := ev.Type
		switch {
		case ev.IsHoliday:
			kind = "holiday"
		case kind == "":
			kind = "personal"
		}
		rows = append(rows, agendaRow{
			cells:   []string{when, clock, ev.Title, kind, ev.Source},
			holiday: ev.IsHoliday,
		})
	}
	return rows
}

// printAgenda writes the events as a table, holidays in red, followed by a
// one-line diagnostics summary when anything was dropped.
func printAgenda(w io.Writer, res aggregate.Result, loc *time.Location) {
	fmt.Fprintf(w, "%s ~ %s\n", model.FormatDate(res.Window.From), model.FormatDate(res.Window.To))

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Date", "Time", "Title", "Type", "Source"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")

	holiday := color.New(color.FgRed, color.OpBold)
	for _, row := range agendaRows(res, loc) {
		cells := row.cells
		if row.holiday {
			cells = make([]string, len(row.cells))
			for i, c := range row.cells {
				cells[i] = holiday.Sprint(c)
			}
		}
		table.Append(cells)
	}
	table.Render()

	d := res.Diagnostics
	if d.InvalidDates+d.MalformedRules+d.Truncated+d.AmbiguousVisibility > 0 {
		fmt.Fprintf(w, "\ninvalid dates: %d, malformed rules: %d, truncated: %d, ambiguous attendees: %d\n",
			d.InvalidDates, d.MalformedRules, d.Truncated, d.AmbiguousVisibility)
	}
}
