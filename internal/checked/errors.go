package checked

import (
	"errors"
	"fmt"

	"github.com/roach88/subxact/internal/host"
)

// Kind categorizes checked command errors.
type Kind string

const (
	// KindCaught is an engine failure intercepted by the boundary.
	KindCaught Kind = "caught"

	// KindCommand is a request rejected before it reached the engine.
	KindCommand Kind = "command"
)

// Error is returned by a failed checked command. The scope the command ran
// in has been rolled back by the time the caller sees it.
type Error struct {
	Kind    Kind
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Failure returns the intercepted engine failure, or nil for command errors.
func (e *Error) Failure() *host.Failure {
	f, _ := host.AsFailure(e.Err)
	return f
}

// IsCaught reports whether err is an intercepted engine failure.
func IsCaught(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindCaught
}

// IsCommandError reports whether err is a command rejected locally.
func IsCommandError(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindCommand
}

func wrap(cmd host.Command, err error) *Error {
	kind := KindCommand
	if host.IsFailure(err) {
		kind = KindCaught
	}
	return &Error{Kind: kind, Command: cmd.Text, Err: err}
}
