package recur

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"hpcal/internal/model"
)

// Freq is the recurrence frequency of the supported RRULE subset.
type Freq string

const (
	Daily   Freq = "DAILY"
	Weekly  Freq = "WEEKLY"
	Monthly Freq = "MONTHLY"
	Yearly  Freq = "YEARLY"
)

var rruleFreq = map[Freq]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

// ErrMalformedRule marks a recurrence rule string that could not be parsed.
var ErrMalformedRule = errors.New("malformed recurrence rule")

// MalformedRuleError describes why a rule string was rejected.
type MalformedRuleError struct {
	Rule   string
	Reason string
}

func (e *MalformedRuleError) Error() string {
	return fmt.Sprintf("malformed recurrence rule %q: %s", e.Rule, e.Reason)
}

func (e *MalformedRuleError) Unwrap() error {
	return ErrMalformedRule
}

// Rule is a parsed recurrence rule. It is always anchored at the owning
// event's start date, so the anchor is not part of the rule itself.
type Rule struct {
	Freq     Freq
	Interval int
	// Until is an inclusive calendar date; zero means open-ended.
	Until time.Time
}

// String encodes the rule in the FREQ=..;INTERVAL=..[;UNTIL=YYYY-MM-DD]
// wire format. Parse(r.String()) reproduces r.
func (r Rule) String() string {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	s := "FREQ=" + string(r.Freq) + ";INTERVAL=" + strconv.Itoa(interval)
	if !r.Until.IsZero() {
		s += ";UNTIL=" + model.FormatDate(r.Until)
	}
	return s
}

// Parse decodes a rule string. An optional "RRULE:" prefix and any key order
// are accepted; INTERVAL defaults to 1. UNTIL may be an ISO date or an
// RFC 5545 basic date / date-time.
func Parse(s string) (Rule, error) {
	raw := s
	fail := func(reason string) (Rule, error) {
		return Rule{}, &MalformedRuleError{Rule: raw, Reason: reason}
	}

	s = strings.TrimSpace(s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	if s == "" {
		return fail("empty rule")
	}

	r := Rule{Interval: 1}
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return fail("expected KEY=VALUE, got " + strconv.Quote(part))
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		if seen[key] {
			return fail("duplicate " + key)
		}
		seen[key] = true

		switch key {
		case "FREQ":
			f := Freq(strings.ToUpper(val))
			if _, ok := rruleFreq[f]; !ok {
				return fail("unsupported frequency " + strconv.Quote(val))
			}
			r.Freq = f
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return fail("interval must be a positive integer")
			}
			r.Interval = n
		case "UNTIL":
			until, err := parseUntil(val)
			if err != nil {
				return fail(err.Error())
			}
			r.Until = until
		default:
			return fail("unsupported key " + key)
		}
	}

	if r.Freq == "" {
		return fail("missing FREQ")
	}
	return r, nil
}

func parseUntil(v string) (time.Time, error) {
	if d, err := model.ParseDate(v); err == nil {
		return d, nil
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad UNTIL %q", v)
		}
		return model.DateOf(t), nil
	case strings.Contains(v, "T"):
		t, err := time.Parse("20060102T150405", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad UNTIL %q", v)
		}
		return model.DateOf(t), nil
	default:
		t, err := time.Parse("20060102", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad UNTIL %q", v)
		}
		return t, nil
	}
}

// ROption converts the rule into rrule-go options anchored at anchor.
func (r Rule) ROption(anchor time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:     rruleFreq[r.Freq],
		Interval: r.Interval,
		Dtstart:  model.DateOf(anchor),
	}
	if !r.Until.IsZero() {
		opt.Until = model.DateOf(r.Until)
	}
	return opt
}
