// Package subtxn manages nested transaction scopes (sub-transactions) on a
// host engine.
//
// A scope is represented by a handle, *SubTxn[P, D]. P is the parent the
// scope was opened under (a *Client, another *SubTxn, or the Parent
// interface itself when nesting depth is decided at run time). D is the drop
// policy: what happens to the scope when its handle is disposed without an
// explicit Commit or Rollback.
//
// Handles follow a consume-and-return discipline. Commit, Rollback and the
// policy re-tags consume the handle they are called on; commands that move a
// handle (see package checked) return the handle to continue with. Using a
// consumed handle panics with ErrHandleConsumed. A parent is busy while a
// child scope is open, and using it panics with ErrScopeBusy.
//
// Open is the only way to create a scope and it guarantees resolution: when
// the body returns, a scope that is still open is resolved according to its
// current policy; when the body panics, the scope is rolled back before the
// panic continues. CatchError builds an error boundary on top of that for
// commands whose failures bypass normal control flow.
package subtxn
