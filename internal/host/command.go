package host

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/subxact/internal/datum"
)

// Command is one request for the engine.
type Command struct {
	Text string

	// Limit caps the rows returned; zero means no limit.
	Limit int64

	// Args are bound to the command's placeholders.
	Args []any

	// ReadOnly commands must not modify data; the engine raises if they try.
	ReadOnly bool
}

// CommandErrorCode categorizes local command rejections.
type CommandErrorCode string

const (
	// ErrCodeArgument indicates an empty or otherwise unusable command text.
	ErrCodeArgument CommandErrorCode = "ARGUMENT"

	// ErrCodeLimit indicates a negative row limit.
	ErrCodeLimit CommandErrorCode = "LIMIT"

	// ErrCodeParamType indicates an argument of a type no engine can bind.
	ErrCodeParamType CommandErrorCode = "PARAM_TYPE"
)

// CommandError is a request rejected before it reached the engine.
type CommandError struct {
	Code    CommandErrorCode
	Message string

	// Index is the offending argument position for ErrCodeParamType.
	Index int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCommandError reports whether err is a local command rejection.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}

// Validate rejects malformed requests.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return &CommandError{Code: ErrCodeArgument, Message: "command text is empty"}
	}
	if c.Limit < 0 {
		return &CommandError{
			Code:    ErrCodeLimit,
			Message: fmt.Sprintf("row limit must be non-negative, got %d", c.Limit),
		}
	}
	for i, arg := range c.Args {
		if !bindable(arg) {
			return &CommandError{
				Code:    ErrCodeParamType,
				Message: fmt.Sprintf("argument %d has unsupported type %T", i, arg),
				Index:   i,
			}
		}
	}
	return nil
}

func bindable(arg any) bool {
	switch arg.(type) {
	case nil, bool, string, []byte, time.Time, datum.Value,
		int, int8, int16, int32, int64, uint8, uint16, uint32,
		float32, float64:
		return true
	}
	return false
}

// DriverArgs returns Args with datum values unwrapped for the driver.
func (c Command) DriverArgs() []any {
	if len(c.Args) == 0 {
		return nil
	}
	out := make([]any, len(c.Args))
	for i, arg := range c.Args {
		if v, ok := arg.(datum.Value); ok {
			out[i] = datum.ToDriver(v)
			continue
		}
		out[i] = arg
	}
	return out
}

// LimitReached reports whether n collected rows satisfy the limit.
func (c Command) LimitReached(n int) bool {
	return c.Limit > 0 && int64(n) >= c.Limit
}
