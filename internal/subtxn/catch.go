package subtxn

import (
	"fmt"

	"github.com/roach88/subxact/internal/host"
)

// clone is a second reference to a scope that sits outside the handle chain,
// so the scope can still be rolled back after the handle is lost.
type clone struct {
	sc *scope
}

// internalClone hands resolution of the scope to the returned clone until
// the original handle's scope is re-armed.
func (t *SubTxn[P, D]) internalClone() clone {
	sc := t.use()
	sc.armed = false
	return clone{sc: sc}
}

// rollback rolls the scope back unless another path already resolved it.
func (c clone) rollback(reason string) *host.Failure {
	if c.sc.resolved {
		return nil
	}
	return c.sc.sess.engine.Protect(func() { c.sc.resolve(PolicyRollback, reason) })
}

// CatchError runs body inside an error boundary.
//
// If body returns normally, its value and handle are returned. If body
// returns an error, or anything is raised while it runs, the scope is rolled
// back through an internal clone and the failure is returned instead: the
// raised *host.Failure, or body's own error. A failed forced rollback is
// reported alongside the original failure, never instead of it.
//
// The handle passed in is consumed on failure.
func CatchError[P Parent, D DropPolicy, R any](
	tx *SubTxn[P, D],
	body func(*SubTxn[P, D]) (R, *SubTxn[P, D], error),
) (R, *SubTxn[P, D], error) {
	armed := tx.use().armed
	guard := tx.internalClone()
	sess := guard.sc.sess

	var (
		value R
		out   *SubTxn[P, D]
		err   error
	)
	caught := sess.engine.Protect(func() {
		value, out, err = body(tx)
	})
	if caught == nil && err == nil {
		guard.sc.armed = armed
		return value, out, nil
	}

	var zero R
	tx.consumed = true
	if caught != nil {
		if rf := guard.rollback("caught failure"); rf != nil {
			sess.logger.Error("forced rollback failed", "depth", guard.sc.depth, "error", rf)
			caught.Rollback = rf
		}
		sess.logger.Warn("sub-transaction rolled back after failure",
			"depth", guard.sc.depth,
			"code", caught.Code,
			"error", caught.Message,
		)
		return zero, nil, caught
	}

	if rf := guard.rollback("error"); rf != nil {
		sess.logger.Error("forced rollback failed", "depth", guard.sc.depth, "error", rf)
		err = fmt.Errorf("%w; rollback failed: %w", err, rf)
	}
	sess.logger.Debug("sub-transaction rolled back after error", "depth", guard.sc.depth, "error", err)
	return zero, nil, err
}
