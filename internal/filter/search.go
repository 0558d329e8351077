package filter

import (
	"strings"

	"github.com/samber/lo"

	"hpcal/internal/model"
)

// Reserved tag filter values.
const (
	TagAll         = "all"
	TagHoliday     = "holiday"
	TagPersonal    = "personal"
	TagMidtermExam = "midterm_exam"
	TagFinalExam   = "final_exam"

	examType = "exam"
)

// Options holds the labels the filters match against. Zero values fall back
// to DefaultOptions.
type Options struct {
	// AlwaysVisibleType is the event type that bypasses tag filtering.
	AlwaysVisibleType string `yaml:"always_visible_type" json:"always_visible_type"`
	// PersonalLabel is the synthesized label free-text search matches for
	// untyped, non-holiday events.
	PersonalLabel string `yaml:"personal_label" json:"personal_label"`
	// MidtermLabel / FinalLabel are the exact exam titles behind the
	// midterm_exam / final_exam tags.
	MidtermLabel string `yaml:"midterm_label" json:"midterm_label"`
	FinalLabel   string `yaml:"final_label" json:"final_label"`
}

func DefaultOptions() Options {
	return Options{
		AlwaysVisibleType: "notice",
		PersonalLabel:     "개인",
		MidtermLabel:      "중간고사",
		FinalLabel:        "기말고사",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.AlwaysVisibleType == "" {
		o.AlwaysVisibleType = def.AlwaysVisibleType
	}
	if o.PersonalLabel == "" {
		o.PersonalLabel = def.PersonalLabel
	}
	if o.MidtermLabel == "" {
		o.MidtermLabel = def.MidtermLabel
	}
	if o.FinalLabel == "" {
		o.FinalLabel = def.FinalLabel
	}
	return o
}

// Criteria is what the viewer selected: active tag filters, or a free-text
// query. A non-blank Query switches to free-text mode and Tags are ignored.
type Criteria struct {
	Tags  []string `json:"tags,omitempty"`
	Query string   `json:"query,omitempty"`
}

// FreeText reports whether the criteria select free-text mode.
func (c Criteria) FreeText() bool {
	return strings.TrimSpace(c.Query) != ""
}

// Search narrows events by c. It keeps the input order and never modifies
// the input slice.
func Search(events []model.Event, c Criteria, opts Options) []model.Event {
	opts = opts.withDefaults()
	if c.FreeText() {
		m := newQueryMatcher(c.Query, opts)
		return lo.Filter(events, func(ev model.Event, _ int) bool {
			return m.match(ev)
		})
	}

	tags := normalizeTags(c.Tags)
	if lo.Contains(tags, TagAll) {
		return append([]model.Event(nil), events...)
	}
	return lo.Filter(events, func(ev model.Event, _ int) bool {
		return MatchTags(ev, tags, opts)
	})
}

func normalizeTags(tags []string) []string {
	out := lo.FilterMap(tags, func(t string, _ int) (string, bool) {
		t = strings.ToLower(strings.TrimSpace(t))
		return t, t != ""
	})
	if len(out) == 0 {
		return []string{TagAll}
	}
	return out
}

// MatchTags reports whether ev passes any of the active tag filters.
func MatchTags(ev model.Event, tags []string, opts Options) bool {
	opts = opts.withDefaults()
	if ev.Type != "" && strings.EqualFold(ev.Type, opts.AlwaysVisibleType) {
		return true
	}
	for _, tag := range tags {
		switch tag {
		case TagAll:
			return true
		case TagHoliday:
			if ev.IsHoliday {
				return true
			}
		case TagPersonal:
			if ev.Personal() {
				return true
			}
		case TagMidtermExam:
			if strings.EqualFold(ev.Type, examType) && ev.Title == opts.MidtermLabel {
				return true
			}
		case TagFinalExam:
			if strings.EqualFold(ev.Type, examType) && ev.Title == opts.FinalLabel {
				return true
			}
		default:
			// tags are already lower-cased
			if strings.EqualFold(ev.Type, tag) {
				return true
			}
		}
	}
	return false
}

// queryMatcher implements free-text mode. "#tag" tokens must all match
// (AND); without any "#" token the whole query is one substring (OR across
// the searched fields).
type queryMatcher struct {
	hashtags []string
	phrase   string
	tagged   bool
	personal string
}

func newQueryMatcher(query string, opts Options) queryMatcher {
	q := strings.ToLower(query)
	m := queryMatcher{personal: strings.ToLower(opts.PersonalLabel)}
	for _, tok := range strings.Fields(q) {
		if strings.HasPrefix(tok, "#") {
			m.tagged = true
			if tag := strings.TrimPrefix(tok, "#"); tag != "" {
				m.hashtags = append(m.hashtags, tag)
			}
		}
	}
	m.phrase = strings.TrimSpace(q)
	return m
}

func (m queryMatcher) match(ev model.Event) bool {
	if m.tagged {
		for _, tag := range m.hashtags {
			if !m.fieldsContain(ev, tag) {
				return false
			}
		}
		return true
	}
	if m.phrase == "" {
		return true
	}
	return m.fieldsContain(ev, m.phrase)
}

func (m queryMatcher) fieldsContain(ev model.Event, needle string) bool {
	if strings.Contains(strings.ToLower(ev.Title), needle) {
		return true
	}
	if ev.Type != "" && strings.Contains(strings.ToLower(ev.Type), needle) {
		return true
	}
	return ev.Personal() && strings.Contains(m.personal, needle)
}
