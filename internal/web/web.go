package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"hpcal/internal/aggregate"
	"hpcal/internal/config"
	"hpcal/internal/filter"
	"hpcal/internal/ics"
	appLog "hpcal/internal/log"
	"hpcal/internal/model"
	"hpcal/internal/refresh"
	"hpcal/internal/store"
)

// Records is where the server reads the latest raw events from.
// *refresh.Refresher implements it.
type Records interface {
	Snapshot() refresh.Snapshot
	RefreshNow(ctx context.Context) refresh.Snapshot
}

// Options wires the server to the rest of the app.
//
// Without Basic Auth the API trusts the viewer a caller claims through the
// viewer query parameter or a search body. With Basic Auth on, the single
// account is bound to Config.Viewer and claims are ignored.
type Options struct {
	Config     *config.Config
	Location   *time.Location
	Aggregator *aggregate.Aggregator
	Records    Records
	// Searches is optional; without it /api/searches answers 404.
	Searches *store.RecentSearches
	// PreviewPath is the PNG served at /preview.png.
	PreviewPath string
	// Now is used for the default month/week; time.Now if nil.
	Now func() time.Time
}

// Server provides the calendar JSON API, the ICS export and the rendered
// month grid.
type Server struct {
	opts      Options
	weekStart time.Weekday
	mux       *http.ServeMux
}

func NewServer(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	s := &Server{
		opts:      opts,
		weekStart: model.ParseWeekStart(opts.Config.WeekStart),
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the root handler, with Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.Config.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware protects everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.Config.BasicAuth.Username
	password := s.opts.Config.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="hpcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe listens on the configured address and serves until ctx
// is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Config.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/month", s.handleMonth)
	s.mux.HandleFunc("/api/week", s.handleWeek)
	s.mux.HandleFunc("/api/events.ics", s.handleICS)
	s.mux.HandleFunc("/api/searches", s.handleSearches)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.HandleFunc("/calendar", s.handleCalendar)
	s.mux.HandleFunc("/preview.png", s.handlePreview)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarResponse is the JSON shape of /api/events, /api/month and /api/week.
type calendarResponse struct {
	aggregate.Result
	Timezone     string    `json:"timezone"`
	WeekStart    string    `json:"week_start"`
	UpdatedAt    time.Time `json:"updated_at"`
	SourceErrors []string  `json:"source_errors,omitempty"`
}

// GET /api/events?from=YYYY-MM-DD&to=YYYY-MM-DD&viewer=&tags=a,b&q=
// Without from/to the current month grid is used.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	win, err := s.agendaWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeCalendar(w, r, win, aggregate.ModeAgenda)
}

// GET /api/month?year=2025&month=3&viewer=&tags=&q=
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	year, month, err := s.yearMonth(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeCalendar(w, r, model.MonthWindow(year, month, s.weekStart), aggregate.ModeMonth)
}

// GET /api/week?date=YYYY-MM-DD&viewer=&tags=&q=
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	day := s.today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: "+v)
			return
		}
		day = d
	}
	s.writeCalendar(w, r, model.WeekWindow(day, s.weekStart), aggregate.ModeWeek)
}

// GET /api/events.ics takes the same parameters as /api/events.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	win, err := s.agendaWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, _ := s.aggregate(r, win, aggregate.ModeAgenda)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="hpcal.ics"`)
	_, _ = w.Write([]byte(ics.Export(res.Events, "hpcal")))
}

type searchesResponse struct {
	Viewer   string   `json:"viewer"`
	Searches []string `json:"searches"`
}

type searchRequest struct {
	Viewer string `json:"viewer"`
	Query  string `json:"query"`
}

// GET /api/searches?viewer= lists recent queries; POST {"viewer","query"}
// records one.
func (s *Server) handleSearches(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if s.opts.Searches == nil {
		writeError(w, http.StatusNotFound, "recent searches disabled")
		return
	}

	if r.Method == http.MethodGet {
		viewer := s.viewer(r, "")
		list, err := s.opts.Searches.List(viewer)
		if err != nil {
			appLog.Error("recent searches read failed", err, "viewer", viewer)
			writeError(w, http.StatusInternalServerError, "failed to read recent searches")
			return
		}
		writeJSON(w, http.StatusOK, searchesResponse{Viewer: viewer, Searches: list})
		return
	}

	var body searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	viewer := s.viewer(r, body.Viewer)
	list, err := s.opts.Searches.Add(viewer, body.Query)
	if err != nil {
		appLog.Error("recent searches write failed", err, "viewer", viewer)
		writeError(w, http.StatusInternalServerError, "failed to save search")
		return
	}
	writeJSON(w, http.StatusOK, searchesResponse{Viewer: viewer, Searches: list})
}

// POST /api/refresh reloads every source now.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	snap := s.opts.Records.RefreshNow(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

// handlePreview serves the last captured screenshot.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.opts.PreviewPath == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, s.opts.PreviewPath)
}

func (s *Server) writeCalendar(w http.ResponseWriter, r *http.Request, win model.ViewWindow, mode aggregate.Mode) {
	res, snap := s.aggregate(r, win, mode)
	writeJSON(w, http.StatusOK, calendarResponse{
		Result:       res,
		Timezone:     s.opts.Location.String(),
		WeekStart:    s.opts.Config.WeekStart,
		UpdatedAt:    snap.UpdatedAt,
		SourceErrors: snap.Errors,
	})
}

// aggregate runs one recompute over the current snapshot.
func (s *Server) aggregate(r *http.Request, win model.ViewWindow, mode aggregate.Mode) (aggregate.Result, refresh.Snapshot) {
	snap := s.opts.Records.Snapshot()
	q := r.URL.Query()
	req := aggregate.Request{
		Personal: snap.Personal,
		Shared:   snap.Shared,
		Window:   win,
		Viewer:   s.viewer(r, ""),
		Criteria: filter.Criteria{
			Tags:  splitList(q.Get("tags")),
			Query: q.Get("q"),
		},
		Mode: mode,
	}
	res := s.opts.Aggregator.Aggregate(req)
	appLog.Debug("api calendar request",
		"path", r.URL.Path,
		"window", win.String(),
		"viewer", req.Viewer,
		"events", len(res.Events),
	)
	return res, snap
}

// viewer resolves the identity for attendee filtering and recent searches.
// claimed, when set, wins over the query parameter.
func (s *Server) viewer(r *http.Request, claimed string) string {
	if s.basicAuthEnabled() {
		return s.opts.Config.Viewer
	}
	if v := strings.TrimSpace(claimed); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("viewer")); v != "" {
		return v
	}
	return s.opts.Config.Viewer
}

func (s *Server) today() time.Time {
	return model.DateOf(s.opts.Now().In(s.opts.Location))
}

func (s *Server) agendaWindow(r *http.Request) (model.ViewWindow, error) {
	q := r.URL.Query()
	if q.Get("from") == "" && q.Get("to") == "" {
		t := s.today()
		return model.MonthWindow(t.Year(), t.Month(), s.weekStart), nil
	}
	from, err := model.ParseDate(q.Get("from"))
	if err != nil {
		return model.ViewWindow{}, fmt.Errorf("invalid from: %q", q.Get("from"))
	}
	to, err := model.ParseDate(q.Get("to"))
	if err != nil {
		return model.ViewWindow{}, fmt.Errorf("invalid to: %q", q.Get("to"))
	}
	win := model.NewWindow(from, to)
	if !win.Valid() {
		return model.ViewWindow{}, errors.New("from must not be after to")
	}
	return win, nil
}

func (s *Server) yearMonth(r *http.Request) (int, time.Month, error) {
	t := s.today()
	q := r.URL.Query()
	year, err := parseIntDefault(q.Get("year"), t.Year())
	if err != nil {
		return 0, 0, fmt.Errorf("invalid year: %q", q.Get("year"))
	}
	month, err := parseIntDefault(q.Get("month"), int(t.Month()))
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("invalid month: %q", q.Get("month"))
	}
	if year < 1 || year > 9999 {
		return 0, 0, fmt.Errorf("invalid year: %q", q.Get("year"))
	}
	return year, time.Month(month), nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	if lo.Contains(methods, r.Method) {
		return true
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// parseIntDefault returns def for an empty parameter.
func parseIntDefault(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
