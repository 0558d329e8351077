package aggregate

type IssueKind string

const (
	IssueInvalidDate   IssueKind = "invalid_date"
	IssueMalformedRule IssueKind = "malformed_rule"
	IssueTruncated     IssueKind = "truncated"
	IssueInvalidWindow IssueKind = "invalid_window"
)

// Issue is one recovered problem with an input record.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	EventID string    `json:"event_id,omitempty"`
	Source  string    `json:"source,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// Diagnostics counts everything the pipeline dropped or degraded. None of
// it is fatal.
type Diagnostics struct {
	InvalidDates        int     `json:"invalid_dates"`
	MalformedRules      int     `json:"malformed_rules"`
	Truncated           int     `json:"truncated"`
	AmbiguousVisibility int     `json:"ambiguous_visibility"`
	Hidden              int     `json:"hidden"`
	Duplicates          int     `json:"duplicates"`
	Issues              []Issue `json:"issues,omitempty"`
}

func (d *Diagnostics) add(is Issue) {
	switch is.Kind {
	case IssueInvalidDate:
		d.InvalidDates++
	case IssueMalformedRule:
		d.MalformedRules++
	case IssueTruncated:
		d.Truncated++
	}
	d.Issues = append(d.Issues, is)
}
