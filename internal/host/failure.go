package host

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind categorizes failures intercepted at a boundary.
type FailureKind string

const (
	// KindEngine is a failure reported by the database engine.
	KindEngine FailureKind = "ENGINE"

	// KindPanic is any other panic intercepted at a boundary.
	KindPanic FailureKind = "PANIC"
)

// Engine-independent failure codes. Engines otherwise use their own native
// codes (SQLite result code names, PostgreSQL SQLSTATE).
const (
	CodeOutOfOrder       = "OUT_OF_ORDER"
	CodeNoSubTransaction = "NO_SUBTRANSACTION"
	CodeCanceled         = "CANCELED"
	CodeConnection       = "CONNECTION"
)

// Failure is a failure raised by the engine (or a panic caught alongside
// one). It carries enough of the engine's diagnostic to rebuild the message
// of the interrupted call.
type Failure struct {
	Kind    FailureKind
	Code    string
	Message string
	Detail  string
	Hint    string

	// Command is the text of the command that raised, when known.
	Command string

	// Value is the original panic value for KindPanic failures.
	Value any

	// Rollback is set when the rollback forced by a boundary failed too.
	Rollback *Failure
}

func (f *Failure) Error() string {
	var b strings.Builder
	if f.Code != "" {
		b.WriteString(f.Code)
		b.WriteString(": ")
	}
	b.WriteString(f.Message)
	if f.Detail != "" {
		b.WriteString(" (detail: ")
		b.WriteString(f.Detail)
		b.WriteString(")")
	}
	if f.Rollback != nil {
		b.WriteString("; rollback failed: ")
		b.WriteString(f.Rollback.Error())
	}
	return b.String()
}

// Unwrap exposes a wrapped panic error and the secondary rollback failure.
func (f *Failure) Unwrap() []error {
	var errs []error
	if err, ok := f.Value.(error); ok {
		errs = append(errs, err)
	}
	if f.Rollback != nil {
		errs = append(errs, f.Rollback)
	}
	return errs
}

// Raise raises f as a host failure signal.
func Raise(f *Failure) {
	panic(f)
}

// Capture converts a recovered panic value into a Failure.
func Capture(r any) *Failure {
	switch v := r.(type) {
	case *Failure:
		return v
	case error:
		return &Failure{Kind: KindPanic, Message: v.Error(), Value: v}
	default:
		return &Failure{Kind: KindPanic, Message: fmt.Sprint(v), Value: v}
	}
}

// Protect runs fn and converts anything it raises into a Failure. It is the
// default Boundary implementation shared by the engines.
func Protect(fn func()) (caught *Failure) {
	defer func() {
		if r := recover(); r != nil {
			caught = Capture(r)
		}
	}()
	fn()
	return nil
}

// AsFailure returns the Failure in err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsFailure reports whether err carries a Failure.
func IsFailure(err error) bool {
	_, ok := AsFailure(err)
	return ok
}
