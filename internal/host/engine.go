package host

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ContextID identifies an allocation context of the engine.
type ContextID string

// OwnerID identifies a resource owner of the engine.
type OwnerID string

// Tokens is the resource-tracking pair active at one nesting level.
type Tokens struct {
	Context ContextID
	Owner   OwnerID
}

// IsZero reports whether t carries no tokens.
func (t Tokens) IsZero() bool {
	return t.Context == "" && t.Owner == ""
}

func (t Tokens) String() string {
	return fmt.Sprintf("context=%s owner=%s", t.Context, t.Owner)
}

// Boundary installs failure boundaries.
type Boundary interface {
	// Protect runs fn and returns the failure raised inside it, if any.
	Protect(fn func()) *Failure
}

// Engine is the host database engine.
//
// BeginNested, CommitNested, RollbackNested and Execute raise *Failure on
// engine errors instead of returning them.
type Engine interface {
	Boundary

	// BeginNested opens one nested level and returns the tokens that were
	// active before it.
	BeginNested(ctx context.Context) Tokens

	// CommitNested resolves the innermost level, keeping its effects, and
	// makes restore the active tokens again.
	CommitNested(ctx context.Context, restore Tokens)

	// RollbackNested resolves the innermost level, discarding its effects,
	// and makes restore the active tokens again.
	RollbackNested(ctx context.Context, restore Tokens)

	// Execute runs one command at the innermost level.
	Execute(ctx context.Context, cmd Command) (*ResultSet, error)

	// Active returns the tokens of the innermost level.
	Active() Tokens

	// Depth returns the number of open nested levels.
	Depth() int
}

// IDGenerator produces unique identifiers for tokens.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 identifiers.
//
// It is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a hyphenated UUIDv7 string.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
