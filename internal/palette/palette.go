package palette

import (
	"regexp"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"hpcal/internal/model"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Config maps event categories to display colors.
type Config struct {
	Default   string            `yaml:"default" json:"default"`
	Personal  string            `yaml:"personal" json:"personal"`
	Holiday   string            `yaml:"holiday" json:"holiday"`
	Highlight string            `yaml:"highlight" json:"highlight"`
	Types     map[string]string `yaml:"types" json:"types"`
	// HighlightKeywords paint any event whose title contains one of them
	// in the Highlight color.
	HighlightKeywords []string `yaml:"highlight_keywords" json:"highlight_keywords"`
}

func DefaultConfig() Config {
	return Config{
		Default:   "#5f6368",
		Personal:  "#34a853",
		Holiday:   "#d93025",
		Highlight: "#d93025",
		Types: map[string]string{
			"exam":   "#f29900",
			"event":  "#1a73e8",
			"notice": "#9334e6",
		},
		HighlightKeywords: []string{"휴일", "휴가", "중요"},
	}
}

// Resolver derives an event's display color. The color stored on a record
// is only a hint; category rules win over it.
type Resolver struct {
	cfg     Config
	matcher *goahocorasick.Machine
}

// New builds a Resolver, compiling the highlight keywords into an
// Aho-Corasick automaton.
func New(cfg Config) (*Resolver, error) {
	def := DefaultConfig()
	if cfg.Default == "" {
		cfg.Default = def.Default
	}
	if cfg.Personal == "" {
		cfg.Personal = def.Personal
	}
	if cfg.Holiday == "" {
		cfg.Holiday = def.Holiday
	}
	if cfg.Highlight == "" {
		cfg.Highlight = def.Highlight
	}

	types := make(map[string]string, len(cfg.Types))
	for k, v := range cfg.Types {
		types[strings.ToLower(strings.TrimSpace(k))] = v
	}
	cfg.Types = types
	r := &Resolver{cfg: cfg}

	patterns := make([][]rune, 0, len(cfg.HighlightKeywords))
	for _, kw := range cfg.HighlightKeywords {
		if norm := normalize(kw); len(norm) > 0 {
			patterns = append(patterns, norm)
		}
	}
	if len(patterns) == 0 {
		return r, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	r.matcher = m
	return r, nil
}

// Highlighted reports whether title contains a highlight keyword.
func (r *Resolver) Highlighted(title string) bool {
	if r == nil || r.matcher == nil {
		return false
	}
	norm := normalize(title)
	if len(norm) == 0 {
		return false
	}
	return len(r.matcher.MultiPatternSearch(norm, true)) > 0
}

// Resolve picks the color for ev: highlight keyword, holiday, type map,
// the record's own hex color, personal, then the default.
func (r *Resolver) Resolve(ev model.Event) string {
	switch {
	case r.Highlighted(ev.Title):
		return r.cfg.Highlight
	case ev.IsHoliday:
		return r.cfg.Holiday
	}
	if c, ok := r.cfg.Types[strings.ToLower(ev.Type)]; ok && ev.Type != "" {
		return c
	}
	if hexColor.MatchString(ev.Color) {
		return strings.ToLower(ev.Color)
	}
	if ev.Personal() {
		return r.cfg.Personal
	}
	return r.cfg.Default
}

// Apply returns a copy of events with Color resolved.
func (r *Resolver) Apply(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, ev := range events {
		ev.Color = r.Resolve(ev)
		out[i] = ev
	}
	return out
}

// normalize lower-cases and drops whitespace so "중 요" still matches "중요".
func normalize(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		if unicode.IsSpace(c) {
			continue
		}
		out = append(out, unicode.ToLower(c))
	}
	return out
}
