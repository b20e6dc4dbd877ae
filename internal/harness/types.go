package harness

import (
	"fmt"
	"strings"
)

// Trace event kinds.
const (
	EventOpen         = "open"
	EventRead         = "read"
	EventWrite        = "write"
	EventCaught       = "caught"
	EventCommandError = "command_error"
	EventCommit       = "commit"
	EventRollback     = "rollback"
	EventDispose      = "dispose"
	EventExit         = "exit"
	EventFailure      = "failure"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Kind    string `json:"kind"`
	Depth   int    `json:"depth"`
	Policy  string `json:"policy,omitempty"`
	Command string `json:"command,omitempty"`
	Checked *bool  `json:"checked,omitempty"`
	Rows    *int64 `json:"rows,omitempty"`
	Code    string `json:"code,omitempty"`
	Seq     int64  `json:"seq"`
}

// canonical returns the event as a map for canonical JSON. Optional fields
// are left out when unset.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"kind":  e.Kind,
		"depth": e.Depth,
		"seq":   e.Seq,
	}
	if e.Policy != "" {
		m["policy"] = e.Policy
	}
	if e.Command != "" {
		m["command"] = e.Command
	}
	if e.Checked != nil {
		m["checked"] = *e.Checked
	}
	if e.Rows != nil {
		m["rows"] = *e.Rows
	}
	if e.Code != "" {
		m["code"] = e.Code
	}
	return m
}

func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s depth=%d", e.Kind, e.Depth)
	if e.Policy != "" {
		fmt.Fprintf(&b, " policy=%s", e.Policy)
	}
	if e.Command != "" {
		fmt.Fprintf(&b, " command=%q", e.Command)
	}
	if e.Rows != nil {
		fmt.Fprintf(&b, " rows=%d", *e.Rows)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	return b.String()
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the events in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations and assertions.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	e.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, e)
}
