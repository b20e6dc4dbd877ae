package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/subxact/internal/datum"
	"github.com/roach88/subxact/internal/host"
)

// AssertionError is returned when the rows of an assertion query differ
// from the expected ones.
type AssertionError struct {
	Query    string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Query)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, event)
		}
	}
	return buf.String()
}

// assert runs an assertion query at the outermost level.
func (r *runner) assert(a Assertion) error {
	var (
		rs  *host.ResultSet
		err error
	)
	if f := r.client.Protect(func() { rs, err = r.client.Select(r.ctx, a.Query, 0) }); f != nil {
		return fmt.Errorf("assertion query %q failed: %w", a.Query, f)
	}
	if err != nil {
		return fmt.Errorf("assertion query %q failed: %w", a.Query, err)
	}

	expected := make([]any, len(a.Rows))
	for i, row := range a.Rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			cells[j] = normalizeArg(cell)
		}
		expected[i] = cells
	}

	want, err := datum.MarshalCanonical(expected)
	if err != nil {
		return fmt.Errorf("assertion %q: %w", a.Query, err)
	}
	got, err := datum.MarshalCanonical(rs.Rows)
	if err != nil {
		return fmt.Errorf("assertion %q: %w", a.Query, err)
	}
	if string(want) != string(got) {
		return &AssertionError{
			Query:    a.Query,
			Expected: string(want),
			Actual:   string(got),
			Trace:    r.result.Trace,
		}
	}
	return nil
}
