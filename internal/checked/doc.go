// Package checked runs single commands inside an error boundary.
//
// A checked command never lets an engine failure escape: the failure is
// caught, the scope is rolled back, and an *Error is returned in place of the
// handle. On success the handle comes back with the drop policy it had
// before the call.
//
//	rs, tx, err := checked.Write(ctx, tx, "INSERT INTO t VALUES (?)", 0, 1)
//	if err != nil {
//		// tx is nil and the scope is already rolled back
//		return err
//	}
package checked
