package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"hpcal/internal/aggregate"
	"hpcal/internal/layout"
	appLog "hpcal/internal/log"
	"hpcal/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var calendarTmpl = template.Must(template.New("calendar.html.tmpl").
	Funcs(template.FuncMap{"add": func(a, b int) int { return a + b }}).
	ParseFS(templateFS, "templates/calendar.html.tmpl"))

var weekdayLabels = [7]string{"일", "월", "화", "수", "목", "금", "토"}

// gridPage is the view model of the server-rendered month grid.
type gridPage struct {
	Title    string
	Weekdays []string
	Weeks    []gridWeek
	// LaneRows is the lane cap; every week reserves that many bar rows.
	LaneRows int
}

type gridWeek struct {
	Days []gridDay
	Bars []gridBar
}

type gridDay struct {
	Col      int
	Day      int
	InMonth  bool
	Today    bool
	Holiday  bool
	Overflow int
	Timed    []gridTimed
}

// gridBar is one visible all-day block. Row counts from 0 (first lane).
type gridBar struct {
	Title          string
	Color          string
	Col            int
	Span           int
	Row            int
	ContinuesLeft  bool
	ContinuesRight bool
}

type gridTimed struct {
	Time  string
	Title string
	Color string
}

// buildGrid turns a month aggregate into the template view model.
func buildGrid(res aggregate.Result, year int, month time.Month, today time.Time, weekStart time.Weekday, maxLanes int) gridPage {
	if maxLanes <= 0 {
		maxLanes = layout.DefaultMaxLanes
	}
	page := gridPage{
		Title:    fmt.Sprintf("%d년 %d월", year, int(month)),
		LaneRows: maxLanes,
	}
	for i := range 7 {
		page.Weekdays = append(page.Weekdays, weekdayLabels[(int(weekStart)+i)%7])
	}

	for _, wk := range res.Weeks {
		gw := gridWeek{}
		for i, cell := range wk.Days {
			gd := gridDay{
				Col:      i + 1,
				Day:      cell.Date.Day(),
				InMonth:  cell.Date.Month() == month,
				Today:    cell.Date.Equal(today),
				Overflow: cell.Overflow,
			}
			for _, ev := range cell.All {
				if ev.IsHoliday {
					gd.Holiday = true
				}
			}
			for _, ev := range res.Events {
				if ev.Timed() && ev.StartDate.Equal(cell.Date) {
					if ev.IsHoliday {
						gd.Holiday = true
					}
					gd.Timed = append(gd.Timed, gridTimed{
						Time:  ev.StartDateTime.Format("15:04"),
						Title: ev.Title,
						Color: ev.Color,
					})
				}
			}
			gw.Days = append(gw.Days, gd)
		}
		for _, p := range wk.Placements {
			if p.Hidden {
				continue
			}
			gw.Bars = append(gw.Bars, gridBar{
				Title:          p.Event.Title,
				Color:          p.Event.Color,
				Col:            model.DaysBetween(wk.Start, p.Start) + 1,
				Span:           p.Span,
				Row:            p.Lane,
				ContinuesLeft:  p.ContinuesLeft,
				ContinuesRight: p.ContinuesRight,
			})
		}
		page.Weeks = append(page.Weeks, gw)
	}
	return page
}

// GET /calendar?year=&month=&viewer=&tags=&q= renders the month grid.
// The root element carries data-ready="true" once the page is complete,
// which is what the screenshot waits for.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	year, month, err := s.yearMonth(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, _ := s.aggregate(r, model.MonthWindow(year, month, s.weekStart), aggregate.ModeMonth)
	page := buildGrid(res, year, month, s.today(), s.weekStart, s.opts.Config.MaxLanes)

	var buf bytes.Buffer
	if err := calendarTmpl.Execute(&buf, page); err != nil {
		appLog.Error("calendar template failed", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
