package subtxn

import "errors"

// Misuse of handles is a programming error and is reported by panicking with
// one of these values.
var (
	// ErrHandleConsumed is raised when a handle is used after it was resolved
	// or moved into another operation.
	ErrHandleConsumed = errors.New("subtxn: handle already consumed")

	// ErrScopeBusy is raised when a parent is used while a child scope is open.
	ErrScopeBusy = errors.New("subtxn: parent is busy with an open child scope")

	// ErrOutOfOrder is raised when a scope is resolved before its children.
	ErrOutOfOrder = errors.New("subtxn: scope resolved out of order")
)
