package subtxn

import (
	"context"

	"github.com/roach88/subxact/internal/host"
)

// Parent is anything a scope can be opened under. Use the interface type
// itself as P when the nesting depth is only known at run time.
type Parent interface {
	enter() *session
}

// SubTxn is the handle of one open nested scope.
type SubTxn[P Parent, D DropPolicy] struct {
	sc       *scope
	parent   P
	consumed bool
}

// Open enters a nested scope under parent and runs body with its handle.
// The parent is busy until the scope is resolved.
//
// The scope does not outlive Open. When body returns, a scope that is still
// open is resolved by its current policy. When body panics, the scope is
// rolled back and the panic continues; when it exits the goroutine
// (runtime.Goexit, t.FailNow) the scope is rolled back as well.
func Open[P Parent, R any](ctx context.Context, parent P, body func(*SubTxn[P, CommitOnDrop]) R) R {
	sc := parent.enter().begin(ctx)
	returned := false
	defer func() {
		if r := recover(); r != nil {
			sc.abandon(r)
		}
		if !returned {
			sc.forceRollback("goexit", nil)
			return
		}
		if !sc.resolved {
			sc.resolve(sc.policy, "scope exit")
		}
	}()
	result := body(&SubTxn[P, CommitOnDrop]{sc: sc, parent: parent})
	returned = true
	return result
}

func (t *SubTxn[P, D]) enter() *session {
	return t.use().sess
}

// use returns the scope of a live, innermost handle.
func (t *SubTxn[P, D]) use() *scope {
	if t == nil || t.consumed || t.sc.resolved {
		panic(ErrHandleConsumed)
	}
	if t.sc.sess.top() != t.sc {
		panic(ErrScopeBusy)
	}
	return t.sc
}

func (t *SubTxn[P, D]) consume() *scope {
	sc := t.use()
	t.consumed = true
	return sc
}

// Commit resolves the scope keeping its effects and returns the parent.
// An engine failure is raised.
func (t *SubTxn[P, D]) Commit() P {
	t.consume().resolve(PolicyCommit, "commit")
	return t.parent
}

// Rollback resolves the scope discarding its effects and returns the parent.
// An engine failure is raised.
func (t *SubTxn[P, D]) Rollback() P {
	t.consume().resolve(PolicyRollback, "rollback")
	return t.parent
}

// Dispose resolves the scope according to D. It does nothing on a handle
// that is already consumed, or while an error boundary owns the scope, so it
// is safe to defer.
func (t *SubTxn[P, D]) Dispose() {
	if t == nil || t.consumed || t.sc.resolved || !t.sc.armed {
		return
	}
	t.consumed = true
	t.sc.resolve(PolicyOf[D](), "dispose")
}

// Retag consumes t and returns a handle to the same scope with drop policy
// D2. The engine is not involved.
func Retag[D2 DropPolicy, P Parent, D DropPolicy](t *SubTxn[P, D]) *SubTxn[P, D2] {
	sc := t.consume()
	sc.policy = PolicyOf[D2]()
	return &SubTxn[P, D2]{sc: sc, parent: t.parent}
}

// WithRollbackOnDrop re-tags the handle to roll back on disposal.
func (t *SubTxn[P, D]) WithRollbackOnDrop() *SubTxn[P, RollbackOnDrop] {
	return Retag[RollbackOnDrop, P, D](t)
}

// WithCommitOnDrop re-tags the handle to commit on disposal.
func (t *SubTxn[P, D]) WithCommitOnDrop() *SubTxn[P, CommitOnDrop] {
	return Retag[CommitOnDrop, P, D](t)
}

// Exec runs cmd directly in the scope. Engine failures are raised, not
// returned; see package checked for the guarded form.
func (t *SubTxn[P, D]) Exec(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	return t.use().sess.execute(ctx, cmd)
}

// Select runs a read-only command directly in the scope.
func (t *SubTxn[P, D]) Select(ctx context.Context, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return t.Exec(ctx, host.Command{Text: query, Limit: limit, Args: args, ReadOnly: true})
}

// Update runs a command directly in the scope.
func (t *SubTxn[P, D]) Update(ctx context.Context, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return t.Exec(ctx, host.Command{Text: query, Limit: limit, Args: args})
}

// Policy returns the drop policy the handle is tagged with.
func (t *SubTxn[P, D]) Policy() Policy {
	return PolicyOf[D]()
}

// Depth returns the nesting level of the scope, starting at 1.
func (t *SubTxn[P, D]) Depth() int {
	if t == nil {
		return 0
	}
	return t.sc.depth
}

// Context returns the context the scope was opened with, carrying its span.
func (t *SubTxn[P, D]) Context() context.Context {
	return t.sc.ctx
}

// Restores returns the tokens that become active again once the scope is
// resolved.
func (t *SubTxn[P, D]) Restores() host.Tokens {
	return t.sc.restore
}

// Live reports whether the handle can still be used.
func (t *SubTxn[P, D]) Live() bool {
	return t != nil && !t.consumed && !t.sc.resolved
}
