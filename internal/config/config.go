package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"hpcal/internal/filter"
	"hpcal/internal/palette"
)

// Source kinds.
const (
	KindICS  = "ics"
	KindFile = "file"
)

// SourceConfig describes one event feed.
type SourceConfig struct {
	// Kind is "ics" (URL or .ics path) or "file" (YAML/JSON record list).
	Kind string `yaml:"kind" json:"kind" validate:"required,oneof=ics file"`
	// URL is the ICS endpoint; a local path also works.
	URL string `yaml:"url,omitempty" json:"url,omitempty" validate:"required_without=Path"`
	// Path is a local record file or .ics file.
	Path string `yaml:"path,omitempty" json:"path,omitempty" validate:"required_without=URL"`
	// ID is used for logging and for ids of records that carry none.
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name"`
}

// Location returns URL, or Path when no URL is set.
func (s SourceConfig) Location() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Path
}

type SourcesConfig struct {
	Personal []SourceConfig `yaml:"personal" json:"personal" validate:"dive"`
	Shared   []SourceConfig `yaml:"shared" json:"shared" validate:"dive"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// Config is the top-level application configuration. Fields tagged with
// envconfig can be overridden by HPCAL_* environment variables.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" envconfig:"LISTEN" validate:"required,hostname_port"`

	// Timezone is the IANA display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone" envconfig:"TIMEZONE" validate:"required,timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	// RefreshCron is a five-field cron schedule (e.g. "*/15 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required"`

	// MaxLanes caps visible all-day lanes per day cell.
	MaxLanes int `yaml:"max_lanes" json:"max_lanes" envconfig:"MAX_LANES" validate:"min=1,max=20"`

	// Viewer is the default viewer identity for access filtering.
	Viewer string `yaml:"viewer" json:"viewer" envconfig:"VIEWER"`

	LogLevel string `yaml:"log_level" json:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// StateDir holds the ICS cache, recent searches and the last screenshot.
	StateDir string `yaml:"state_dir" json:"state_dir" envconfig:"STATE_DIR" validate:"required"`

	Sources SourcesConfig  `yaml:"sources" json:"sources" ignored:"true"`
	Filter  filter.Options `yaml:"filter" json:"filter" ignored:"true"`
	Palette palette.Config `yaml:"palette" json:"palette" ignored:"true"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty" ignored:"true" validate:"omitempty"`
}

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "HPCAL"

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Asia/Seoul",
		WeekStart:   "monday",
		RefreshCron: "*/15 * * * *",
		MaxLanes:    3,
		LogLevel:    "info",
		StateDir:    "./var",
		Sources: SourcesConfig{
			Personal: []SourceConfig{},
			Shared:   []SourceConfig{},
		},
		Filter:  filter.DefaultOptions(),
		Palette: palette.DefaultConfig(),
	}
}

// Normalize fills missing values with defaults so that partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart != "sunday" {
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.MaxLanes <= 0 {
		c.MaxLanes = def.MaxLanes
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.Sources.Personal == nil {
		c.Sources.Personal = []SourceConfig{}
	}
	if c.Sources.Shared == nil {
		c.Sources.Shared = []SourceConfig{}
	}
	for _, list := range [][]SourceConfig{c.Sources.Personal, c.Sources.Shared} {
		for i := range list {
			list[i].Kind = strings.ToLower(strings.TrimSpace(list[i].Kind))
			if list[i].Kind == "" {
				list[i].Kind = KindICS
			}
		}
	}

	f := &c.Filter
	if f.AlwaysVisibleType == "" {
		f.AlwaysVisibleType = def.Filter.AlwaysVisibleType
	}
	if f.PersonalLabel == "" {
		f.PersonalLabel = def.Filter.PersonalLabel
	}
	if f.MidtermLabel == "" {
		f.MidtermLabel = def.Filter.MidtermLabel
	}
	if f.FinalLabel == "" {
		f.FinalLabel = def.Filter.FinalLabel
	}
	if c.Palette.Types == nil {
		c.Palette.Types = def.Palette.Types
	}
	if c.Palette.HighlightKeywords == nil {
		c.Palette.HighlightKeywords = def.Palette.HighlightKeywords
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the normalized config.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			v := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", v.Namespace(), v.Tag(), v.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads the YAML config at path, applies HPCAL_* overrides and
// validates the result. A missing file is created with defaults (0600).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg atomically (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".hpcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
