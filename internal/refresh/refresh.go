package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "hpcal/internal/log"
	"hpcal/internal/model"
	"hpcal/internal/source"
)

// Snapshot is the latest raw records of both sides. Its slices are shared
// between readers and must not be modified.
type Snapshot struct {
	Personal  []model.RawEvent `json:"-"`
	Shared    []model.RawEvent `json:"-"`
	UpdatedAt time.Time        `json:"updated_at"`
	// Errors lists sources that failed on the last refresh.
	Errors []string `json:"errors,omitempty"`
}

// Refresher reloads the configured sources on demand or on a cron
// schedule. A source that fails keeps serving its last good records.
type Refresher struct {
	personal []source.Source
	shared   []source.Source

	// OnRefresh, if set, runs after every refresh with the new snapshot.
	OnRefresh func(context.Context, Snapshot)

	// refreshMu serializes refreshes; mu guards snap and lastGood.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	snap      Snapshot
	lastGood  map[string][]model.RawEvent
}

func New(personal, shared []source.Source) *Refresher {
	return &Refresher{
		personal: personal,
		shared:   shared,
		lastGood: make(map[string][]model.RawEvent),
	}
}

// Snapshot returns the current records without touching the sources.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// RefreshNow loads both sides and publishes the result.
func (r *Refresher) RefreshNow(ctx context.Context) Snapshot {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	start := time.Now()
	var errs []string
	personal := r.loadSide(ctx, r.personal, &errs)
	shared := r.loadSide(ctx, r.shared, &errs)

	snap := Snapshot{
		Personal:  personal,
		Shared:    shared,
		UpdatedAt: time.Now().UTC(),
		Errors:    errs,
	}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	appLog.Info("refresh completed",
		"personal", len(personal),
		"shared", len(shared),
		"failed_sources", len(errs),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	if r.OnRefresh != nil {
		r.OnRefresh(ctx, snap)
	}
	return snap
}

func (r *Refresher) loadSide(ctx context.Context, sources []source.Source, errs *[]string) []model.RawEvent {
	out := make([]model.RawEvent, 0)
	for _, src := range sources {
		events, failed := source.LoadAll(ctx, []source.Source{src})
		if len(failed) > 0 {
			*errs = append(*errs, failed[0].Error())
			r.mu.RLock()
			prev, ok := r.lastGood[src.ID()]
			r.mu.RUnlock()
			if ok {
				appLog.Warn("refresh: keeping last good records", "id", src.ID(), "records", len(prev))
				out = append(out, prev...)
			}
			continue
		}
		r.mu.Lock()
		r.lastGood[src.ID()] = events
		r.mu.Unlock()
		out = append(out, events...)
	}
	return out
}

// Start refreshes once, then on every tick of spec (five-field cron) in
// loc until ctx is done. It returns after scheduling.
func (r *Refresher) Start(ctx context.Context, spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() { r.RefreshNow(ctx) }); err != nil {
		return fmt.Errorf("refresh: bad schedule %q: %w", spec, err)
	}

	r.RefreshNow(ctx)
	c.Start()
	appLog.Info("refresh scheduler started", "schedule", spec, "timezone", loc.String())

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		appLog.Info("refresh scheduler stopped")
	}()
	return nil
}
