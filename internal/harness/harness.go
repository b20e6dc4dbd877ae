package harness

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/roach88/subxact/internal/checked"
	"github.com/roach88/subxact/internal/datum"
	"github.com/roach88/subxact/internal/host"
	"github.com/roach88/subxact/internal/store"
	"github.com/roach88/subxact/internal/subtxn"
	"github.com/roach88/subxact/internal/testutil"
)

// Run executes a scenario against a fresh in-memory database and returns
// its trace.
//
// The returned error is reserved for infrastructure problems (the database
// cannot be opened, a setup statement fails). Unmet expectations and
// assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	logger := testutil.DiscardLogger()

	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequenceIDs("h")),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sess, err := st.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	defer func() { _ = sess.Finish(context.WithoutCancel(ctx), false) }()

	for _, stmt := range scenario.Setup {
		var execErr error
		if f := sess.Protect(func() { _, execErr = sess.Execute(ctx, host.Command{Text: stmt}) }); f != nil {
			return nil, fmt.Errorf("setup %q: %w", stmt, f)
		}
		if execErr != nil {
			return nil, fmt.Errorf("setup %q: %w", stmt, execErr)
		}
	}

	r := &runner{
		ctx:    ctx,
		client: subtxn.NewClient(sess, subtxn.WithLogger(logger)),
		result: NewResult(),
	}

	if f := r.client.Protect(func() { r.clientSteps(scenario.Steps) }); f != nil {
		r.result.AddError(fmt.Sprintf("unexpected failure: %v", f))
		r.record(TraceEvent{Kind: EventFailure, Code: f.Code})
	}

	for _, a := range scenario.Assertions {
		if err := r.assert(a); err != nil {
			r.result.AddError(err.Error())
		}
	}
	return r.result, nil
}

type runner struct {
	ctx    context.Context
	client *subtxn.Client
	result *Result
}

func (r *runner) record(e TraceEvent) {
	r.result.record(e)
}

// clientSteps runs steps at the outermost level. Commands there have no
// scope of their own unless they are checked.
func (r *runner) clientSteps(steps []Step) {
	for _, step := range steps {
		if step.Open != nil {
			r.open(r.client, step.Open, 1)
			continue
		}

		text, readOnly := step.command()
		var (
			rs  *host.ResultSet
			err error
		)
		switch {
		case step.Checked && readOnly:
			rs, err = checked.ClientRead(r.ctx, r.client, text, step.Limit, normalizeArgs(step.Args)...)
		case step.Checked:
			rs, err = checked.ClientWrite(r.ctx, r.client, text, step.Limit, normalizeArgs(step.Args)...)
		default:
			rs, err = r.client.Exec(r.ctx, host.Command{
				Text:     text,
				Limit:    step.Limit,
				Args:     normalizeArgs(step.Args),
				ReadOnly: readOnly,
			})
		}
		r.commandOutcome(step, 0, rs, err)
	}
}

// open runs an OpenStep as a nested scope of p at the given depth.
func (r *runner) open(p subtxn.Parent, o *OpenStep, depth int) {
	run := func() {
		subtxn.Open[subtxn.Parent](r.ctx, p, func(tx *subtxn.SubTxn[subtxn.Parent, subtxn.CommitOnDrop]) struct{} {
			r.record(TraceEvent{Kind: EventOpen, Depth: depth, Policy: o.policy()})
			if o.policy() == PolicyRollback {
				runBody(r, tx.WithRollbackOnDrop(), o, depth)
			} else {
				runBody(r, tx, o, depth)
			}
			return struct{}{}
		})
	}

	if o.Expect != ExpectFailure {
		run()
		return
	}
	f := r.client.Protect(run)
	if f == nil {
		r.result.AddError(fmt.Sprintf("scope at depth %d: expected a failure, none occurred", depth))
		return
	}
	r.record(TraceEvent{Kind: EventFailure, Depth: depth, Code: f.Code})
}

// runBody runs the steps of a scope and resolves it the way o asks.
func runBody[D subtxn.DropPolicy](r *runner, tx *subtxn.SubTxn[subtxn.Parent, D], o *OpenStep, depth int) {
	tx, ok := runSteps(r, tx, o.Steps, depth)
	if !ok {
		// closed by a caught failure
		return
	}

	switch o.Resolve {
	case ResolveCommit:
		tx.Commit()
		r.record(TraceEvent{Kind: EventCommit, Depth: depth})
	case ResolveRollback:
		tx.Rollback()
		r.record(TraceEvent{Kind: EventRollback, Depth: depth})
	case ResolveDispose:
		policy := tx.Policy().String()
		tx.Dispose()
		r.record(TraceEvent{Kind: EventDispose, Depth: depth, Policy: policy})
	default:
		r.record(TraceEvent{Kind: EventExit, Depth: depth, Policy: tx.Policy().String()})
	}
}

// runSteps runs steps inside tx. It returns the handle to continue with, or
// false once a checked command has closed the scope.
func runSteps[D subtxn.DropPolicy](
	r *runner,
	tx *subtxn.SubTxn[subtxn.Parent, D],
	steps []Step,
	depth int,
) (*subtxn.SubTxn[subtxn.Parent, D], bool) {
	for _, step := range steps {
		if step.Open != nil {
			r.open(tx, step.Open, depth+1)
			continue
		}

		text, readOnly := step.command()
		args := normalizeArgs(step.Args)

		if !step.Checked {
			rs, err := tx.Exec(r.ctx, host.Command{Text: text, Limit: step.Limit, Args: args, ReadOnly: readOnly})
			r.commandOutcome(step, depth, rs, err)
			continue
		}

		var (
			rs   *host.ResultSet
			next *subtxn.SubTxn[subtxn.Parent, D]
			err  error
		)
		if readOnly {
			rs, next, err = checked.Read(r.ctx, tx, text, step.Limit, args...)
		} else {
			rs, next, err = checked.Write(r.ctx, tx, text, step.Limit, args...)
		}
		r.commandOutcome(step, depth, rs, err)
		if err != nil {
			return nil, false
		}
		tx = next
	}
	return tx, true
}

// commandOutcome records the result of a command step and checks it
// against the step's expectation.
func (r *runner) commandOutcome(step Step, depth int, rs *host.ResultSet, err error) {
	text, readOnly := step.command()

	if err == nil {
		kind := EventWrite
		if readOnly {
			kind = EventRead
		}
		checkedCmd := step.Checked
		rows := rs.Processed
		r.record(TraceEvent{Kind: kind, Depth: depth, Command: text, Checked: &checkedCmd, Rows: &rows})
		if step.expect() != ExpectOK {
			r.result.AddError(fmt.Sprintf("%q: expected %s, command succeeded", text, step.expect()))
		}
		return
	}

	kind, code := classify(err)
	r.record(TraceEvent{Kind: kind, Depth: depth, Command: text, Code: code})
	if step.expect() != kind {
		r.result.AddError(fmt.Sprintf("%q: expected %s, got %s: %v", text, step.expect(), kind, err))
	}
}

func classify(err error) (kind, code string) {
	var cmdErr *host.CommandError
	if errors.As(err, &cmdErr) {
		return EventCommandError, string(cmdErr.Code)
	}
	if f, ok := host.AsFailure(err); ok {
		return EventCaught, f.Code
	}
	return EventCaught, ""
}

func normalizeArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = normalizeArg(a)
	}
	return out
}

// normalizeArg turns a decoded scenario value into a datum. Lists and maps
// are passed through so command validation can reject them.
func normalizeArg(v any) any {
	switch val := v.(type) {
	case []any, map[string]any:
		return val
	case *big.Int:
		if val.IsInt64() {
			return datum.Int(val.Int64())
		}
		return datum.Text(val.String())
	default:
		return datum.FromDriver(val)
	}
}
