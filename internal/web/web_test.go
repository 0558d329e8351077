package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hpcal/internal/aggregate"
	"hpcal/internal/config"
	"hpcal/internal/model"
	"hpcal/internal/palette"
	"hpcal/internal/refresh"
	"hpcal/internal/store"
)

type fakeRecords struct {
	snap      refresh.Snapshot
	refreshes int
}

func (f *fakeRecords) Snapshot() refresh.Snapshot { return f.snap }

func (f *fakeRecords) RefreshNow(context.Context) refresh.Snapshot {
	f.refreshes++
	return f.snap
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeRecords) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Viewer = "u1"
	if mutate != nil {
		mutate(cfg)
	}
	pal, err := palette.New(cfg.Palette)
	require.NoError(t, err)

	recs := &fakeRecords{snap: refresh.Snapshot{
		Personal: []model.RawEvent{
			{ID: "gym", Title: "Gym", StartDate: "2025-03-03", RecurrenceRule: "FREQ=WEEKLY;INTERVAL=1;UNTIL=2025-03-24"},
			{ID: "lab", Title: "Lab", StartDateTime: "2025-03-04T12:00", EndDateTime: "2025-03-04T18:00"},
		},
		Shared: []model.RawEvent{
			{ID: "hol", Title: "삼일절", StartDate: "2025-03-01", IsHoliday: true},
			{ID: "fair", Title: "Job fair", StartDate: "2025-03-05", EndDate: "2025-03-07", Type: "event"},
			{ID: "adv", Title: "Advising", StartDate: "2025-03-10", Attendees: "u2"},
		},
		UpdatedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}}

	s := NewServer(Options{
		Config:     cfg,
		Location:   time.UTC,
		Aggregator: aggregate.New(aggregate.Options{Location: time.UTC, MaxLanes: cfg.MaxLanes, Palette: pal}),
		Records:    recs,
		Searches:   store.NewRecentSearches(store.NewMemory()),
		Now:        func() time.Time { return time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC) },
	})
	return s, recs
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type eventsBody struct {
	Events []model.Event `json:"events"`
	Weeks  []struct {
		Days []struct {
			Overflow int `json:"overflow"`
		} `json:"days"`
	} `json:"weeks"`
	Days []struct {
		Slots []struct {
			TopPct float64 `json:"top_pct"`
		} `json:"slots"`
	} `json:"days"`
	Timezone  string `json:"timezone"`
	WeekStart string `json:"week_start"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) eventsBody {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body eventsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func titles(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEventsDefaultsToCurrentMonth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := decode(t, do(t, s.Handler(), http.MethodGet, "/api/events", ""))

	assert.Equal(t, "UTC", body.Timezone)
	assert.Equal(t, "monday", body.WeekStart)
	assert.Equal(t, []string{"삼일절", "Gym", "Lab", "Job fair", "Gym", "Gym", "Gym"}, titles(body.Events))
	assert.Empty(t, body.Weeks)
}

func TestEventsViewerAndSearch(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	body := decode(t, do(t, h, http.MethodGet, "/api/events?from=2025-03-10&to=2025-03-10&viewer=u2", ""))
	assert.Equal(t, []string{"Gym", "Advising"}, titles(body.Events))

	body = decode(t, do(t, h, http.MethodGet, "/api/events?tags=holiday", ""))
	assert.Equal(t, []string{"삼일절"}, titles(body.Events))

	body = decode(t, do(t, h, http.MethodGet, "/api/events?q=%23%EA%B0%9C%EC%9D%B8", ""))
	assert.Equal(t, []string{"Gym", "Lab", "Gym", "Gym", "Gym"}, titles(body.Events))
}

func TestEventsBadWindow(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?from=2025-03-10&to=2025-03-01", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/events?from=nope&to=2025-03-01", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodPost, "/api/events", "").Code)
}

func TestMonthAndWeek(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	month := decode(t, do(t, h, http.MethodGet, "/api/month?year=2025&month=3", ""))
	assert.Len(t, month.Weeks, 6)

	week := decode(t, do(t, h, http.MethodGet, "/api/week?date=2025-03-04", ""))
	require.Len(t, week.Weeks, 1)
	require.Len(t, week.Days, 7)
	require.Len(t, week.Days[1].Slots, 1)
	assert.InDelta(t, 50.0, week.Days[1].Slots[0].TopPct, 1e-9)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/month?month=13", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/month?month=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/month?year=20x5&month=3", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/calendar?month=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/week?date=2025-02-30", "").Code)
}

func TestICSExport(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/events.ics?from=2025-03-01&to=2025-03-07", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "gym-occurrence-2025-03-03")
}

func TestSearches(t *testing.T) {
	req := require.New(t)
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/api/searches", `{"query":"#휴일"}`)
	req.Equal(http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/searches", `{"viewer":"u1","query":"gym"}`)
	req.Equal(http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/searches?viewer=u1", "")
	req.Equal(http.StatusOK, rec.Code)
	var body searchesResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	req.Equal([]string{"gym", "#휴일"}, body.Searches)

	req.Equal(http.StatusBadRequest, do(t, h, http.MethodPost, "/api/searches", "{").Code)
}

func TestRefreshEndpoint(t *testing.T) {
	s, recs := newTestServer(t, nil)
	h := s.Handler()
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/refresh", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/refresh", "").Code)
	assert.Equal(t, 1, recs.refreshes)
}

func TestCalendarPage(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/calendar?year=2025&month=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	html := rec.Body.String()
	assert.Contains(t, html, `data-ready="true"`)
	assert.Contains(t, html, "2025년 3월")
	assert.Contains(t, html, "Job fair")
	assert.Contains(t, html, "12:00 Lab")
	assert.Contains(t, html, "holiday")
}

func TestBuildGridOverflow(t *testing.T) {
	var raws []model.RawEvent
	for _, id := range []string{"a", "b", "c", "d"} {
		raws = append(raws, model.RawEvent{ID: id, Title: id, StartDate: "2025-03-03", EndDate: "2025-03-05"})
	}
	agg := aggregate.New(aggregate.Options{Location: time.UTC, MaxLanes: 3})
	res := agg.Aggregate(aggregate.Request{Shared: raws, Window: model.MonthWindow(2025, time.March, time.Sunday), Mode: aggregate.ModeMonth})

	page := buildGrid(res, 2025, time.March, model.Date(2025, 3, 4), time.Sunday, 3)
	require.Equal(t, []string{"일", "월", "화", "수", "목", "금", "토"}, page.Weekdays)

	// 2025-03-02 (Sunday) starts the second row.
	wk := page.Weeks[1]
	assert.Len(t, wk.Bars, 3)
	assert.Equal(t, 2, wk.Bars[0].Col)
	assert.Equal(t, 3, wk.Bars[0].Span)
	assert.Equal(t, 1, wk.Days[1].Overflow)
	assert.True(t, wk.Days[2].Today)
	assert.False(t, page.Weeks[0].Days[0].InMonth)
}

func TestPreview(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG"), 0o600))

	s, _ := newTestServer(t, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/preview.png", "").Code)

	s.opts.PreviewPath = path
	rec := do(t, s.Handler(), http.MethodGet, "/preview.png", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/events", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBasicAuthBindsViewer(t *testing.T) {
	req := require.New(t)
	s, _ := newTestServer(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})
	h := s.Handler()
	authed := func(method, target, body string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, target, strings.NewReader(body))
		r.SetBasicAuth("admin", "secret")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	body := decode(t, authed(http.MethodGet, "/api/events?from=2025-03-10&to=2025-03-10&viewer=u2", ""))
	req.Equal([]string{"Gym"}, titles(body.Events))

	rec := authed(http.MethodPost, "/api/searches", `{"viewer":"u2","query":"advising"}`)
	req.Equal(http.StatusOK, rec.Code)
	var saved searchesResponse
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &saved))
	req.Equal("u1", saved.Viewer)
	req.Equal([]string{"advising"}, saved.Searches)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	req := require.New(t)
	s, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
