package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"hpcal/internal/aggregate"
	"hpcal/internal/capture"
	"hpcal/internal/config"
	"hpcal/internal/filter"
	"hpcal/internal/ics"
	appLog "hpcal/internal/log"
	"hpcal/internal/model"
	"hpcal/internal/palette"
	"hpcal/internal/refresh"
	"hpcal/internal/source"
	"hpcal/internal/store"
	"hpcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	viewer     string
	month      string
	query      string
	tags       string
	snapshot   string
}

// app is everything both run modes share.
type app struct {
	cfg        *config.Config
	loc        *time.Location
	aggregator *aggregate.Aggregator
	refresher  *refresh.Refresher
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.viewer != "" {
		conf.Viewer = flags.viewer
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("hpcal starting", "version", version)

	a, err := newApp(conf)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"refresh", conf.RefreshCron,
		"max_lanes", conf.MaxLanes,
		"personal_sources", len(conf.Sources.Personal),
		"shared_sources", len(conf.Sources.Shared),
		"once", flags.once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.once {
		err = a.runOnce(ctx, flags)
	} else {
		err = a.serve(ctx, flags)
	}
	if err != nil {
		appLog.Error("hpcal failed", err)
		os.Exit(1)
	}
	appLog.Info("hpcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/hpcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load sources once, print the month agenda and exit")
	flag.StringVar(&cfg.viewer, "viewer", "", "Viewer identity for attendee filtering (overrides config)")
	flag.StringVar(&cfg.month, "month", "", "Month to print with -once, as YYYY-MM (default: current)")
	flag.StringVar(&cfg.query, "q", "", "Free-text query; #tags are ANDed")
	flag.StringVar(&cfg.tags, "tags", "", "Comma-separated tag filters (all, holiday, personal, midterm_exam, final_exam, or a type)")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG screenshot of the month grid to this path")

	flag.Parse()
	return cfg
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	pal, err := palette.New(cfg.Palette)
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}

	fetcher := ics.NewFetcher(filepath.Join(cfg.StateDir, "ics-cache"))
	personal := source.FromConfig(cfg.Sources.Personal, fetcher, loc)
	shared := source.FromConfig(cfg.Sources.Shared, fetcher, loc)

	return &app{
		cfg: cfg,
		loc: loc,
		aggregator: aggregate.New(aggregate.Options{
			Location: loc,
			MaxLanes: cfg.MaxLanes,
			Filter:   cfg.Filter,
			Palette:  pal,
		}),
		refresher: refresh.New(personal, shared),
	}, nil
}

func (a *app) server(searches *store.RecentSearches, previewPath string) *web.Server {
	return web.NewServer(web.Options{
		Config:      a.cfg,
		Location:    a.loc,
		Aggregator:  a.aggregator,
		Records:     a.refresher,
		Searches:    searches,
		PreviewPath: previewPath,
	})
}

// runOnce loads every source, prints the agenda of one month and optionally
// screenshots its grid through a throwaway local server.
func (a *app) runOnce(ctx context.Context, flags flagConfig) error {
	year, month, err := resolveMonth(flags.month, time.Now().In(a.loc))
	if err != nil {
		return err
	}

	snap := a.refresher.RefreshNow(ctx)
	res := a.aggregator.Aggregate(aggregate.Request{
		Personal: snap.Personal,
		Shared:   snap.Shared,
		Window:   model.MonthWindow(year, month, model.ParseWeekStart(a.cfg.WeekStart)),
		Viewer:   a.cfg.Viewer,
		Criteria: filter.Criteria{Tags: splitTags(flags.tags), Query: flags.query},
		Mode:     aggregate.ModeAgenda,
	})
	printAgenda(os.Stdout, res, a.loc)
	if len(snap.Errors) > 0 {
		fmt.Fprintf(os.Stderr, "%d source(s) failed: %s\n", len(snap.Errors), strings.Join(snap.Errors, "; "))
	}

	if flags.snapshot == "" {
		return nil
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srvCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.server(nil, "").Serve(srvCtx, ln) }()

	err = a.capture(ctx, ln.Addr().String(), year, month, flags)
	stop()
	return errors.Join(err, <-done)
}

// serve runs the scheduler and the HTTP server until ctx is done.
func (a *app) serve(ctx context.Context, flags flagConfig) error {
	if err := os.MkdirAll(a.cfg.StateDir, 0o700); err != nil {
		return err
	}
	kv, err := store.OpenBadger(filepath.Join(a.cfg.StateDir, "searches"))
	if err != nil {
		return fmt.Errorf("open search store: %w", err)
	}
	defer kv.Close()

	previewPath := flags.snapshot
	if previewPath == "" {
		previewPath = filepath.Join(a.cfg.StateDir, "preview.png")
	}

	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return err
	}
	srv := a.server(store.NewRecentSearches(kv), previewPath)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	if flags.snapshot != "" {
		addr := ln.Addr().String()
		a.refresher.OnRefresh = func(ctx context.Context, _ refresh.Snapshot) {
			now := time.Now().In(a.loc)
			if err := a.capture(ctx, addr, now.Year(), now.Month(), flags); err != nil {
				appLog.Error("snapshot failed", err, "path", flags.snapshot)
			}
		}
	}
	if err := a.refresher.Start(ctx, a.cfg.RefreshCron, a.loc); err != nil {
		return err
	}

	return <-done
}

func (a *app) capture(ctx context.Context, addr string, year int, month time.Month, flags flagConfig) error {
	u := calendarURL(addr, year, month, a.cfg)
	q := u.Query()
	if flags.query != "" {
		q.Set("q", flags.query)
	}
	if flags.tags != "" {
		q.Set("tags", flags.tags)
	}
	u.RawQuery = q.Encode()
	return capture.CalendarPNG(ctx, capture.Options{URL: u.String(), OutputPath: flags.snapshot})
}

// calendarURL points at /calendar on a local listener, rewriting an
// unspecified bind address to loopback.
func calendarURL(addr string, year int, month time.Month, cfg *config.Config) *url.URL {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
			host = "127.0.0.1"
		}
		addr = net.JoinHostPort(host, port)
	}
	u := &url.URL{Scheme: "http", Host: addr, Path: "/calendar"}
	if ba := cfg.BasicAuth; ba != nil && ba.Username != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	q := url.Values{}
	q.Set("year", fmt.Sprint(year))
	q.Set("month", fmt.Sprint(int(month)))
	if cfg.Viewer != "" {
		q.Set("viewer", cfg.Viewer)
	}
	u.RawQuery = q.Encode()
	return u
}

func resolveMonth(s string, now time.Time) (int, time.Month, error) {
	if s == "" {
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -month %q, want YYYY-MM", s)
	}
	return t.Year(), t.Month(), nil
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
