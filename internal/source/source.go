package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"hpcal/internal/config"
	"hpcal/internal/ics"
	appLog "hpcal/internal/log"
	"hpcal/internal/model"
)

// Source supplies raw event records from one feed.
type Source interface {
	ID() string
	Load(ctx context.Context) ([]model.RawEvent, error)
}

// ICSSource reads an iCalendar feed over HTTP (cached) or from disk.
type ICSSource struct {
	feed     ics.Feed
	fetcher  *ics.Fetcher
	location *time.Location
}

func NewICS(id, url string, fetcher *ics.Fetcher, loc *time.Location) *ICSSource {
	return &ICSSource{feed: ics.Feed{ID: id, URL: url}, fetcher: fetcher, location: loc}
}

func (s *ICSSource) ID() string { return s.feed.ID }

func (s *ICSSource) Load(ctx context.Context) ([]model.RawEvent, error) {
	res, err := s.fetcher.Fetch(ctx, s.feed)
	if err != nil {
		return nil, err
	}
	return ics.Parse(s.feed, res.Body, s.location)
}

// FileSource reads a YAML or JSON list of records. Records without an id
// get one derived from the source id and their contents, so ids are stable
// across reloads.
type FileSource struct {
	id   string
	path string
}

func NewFile(id, path string) *FileSource {
	return &FileSource{id: id, path: path}
}

func (s *FileSource) ID() string { return s.id }

func (s *FileSource) Load(ctx context.Context) ([]model.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.id, err)
	}

	var events []model.RawEvent
	if strings.EqualFold(filepath.Ext(s.path), ".json") {
		err = json.Unmarshal(data, &events)
	} else {
		err = yaml.Unmarshal(data, &events)
	}
	if err != nil {
		return nil, fmt.Errorf("source %s: decode %s: %w", s.id, filepath.Base(s.path), err)
	}

	for i := range events {
		if strings.TrimSpace(events[i].ID) == "" {
			events[i].ID = recordID(s.id, events[i])
		}
	}
	return events, nil
}

var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hpcal:record"))

func recordID(sourceID string, ev model.RawEvent) string {
	key := strings.Join([]string{sourceID, ev.Title, ev.StartDate, ev.EndDate, ev.StartDateTime, ev.RecurrenceRule}, "\x1f")
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}

// FromConfig builds the sources of one side (personal or shared).
func FromConfig(cfgs []config.SourceConfig, fetcher *ics.Fetcher, loc *time.Location) []Source {
	out := make([]Source, 0, len(cfgs))
	for _, c := range cfgs {
		switch c.Kind {
		case config.KindFile:
			out = append(out, NewFile(c.ID, c.Location()))
		default:
			out = append(out, NewICS(c.ID, c.Location(), fetcher, loc))
		}
	}
	return out
}

// LoadAll loads every source of a side and concatenates the records.
// Failing sources are logged and skipped; their errors are returned for
// reporting only.
func LoadAll(ctx context.Context, sources []Source) ([]model.RawEvent, []error) {
	var (
		out  []model.RawEvent
		errs []error
	)
	for _, src := range sources {
		events, err := src.Load(ctx)
		if err != nil {
			appLog.Error("source load failed", err, "id", src.ID())
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID(), err))
			continue
		}
		appLog.Debug("source loaded", "id", src.ID(), "records", len(events))
		out = append(out, events...)
	}
	return out, errs
}
