package host

// Levels tracks the token stack of an engine session. Engine
// implementations embed it so that every level gets fresh tokens and every
// resolution is checked against LIFO order before it touches the database.
type Levels struct {
	ids   IDGenerator
	stack []Tokens // stack[0] belongs to the outermost transaction
}

// NewLevels creates a stack holding the outermost transaction's tokens.
// A nil generator defaults to UUIDv7Generator.
func NewLevels(ids IDGenerator) *Levels {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	l := &Levels{ids: ids}
	l.stack = append(l.stack, l.next())
	return l
}

func (l *Levels) next() Tokens {
	return Tokens{
		Context: ContextID("ctx-" + l.ids.Generate()),
		Owner:   OwnerID("owner-" + l.ids.Generate()),
	}
}

// Active returns the innermost tokens.
func (l *Levels) Active() Tokens {
	return l.stack[len(l.stack)-1]
}

// Depth returns the number of nested levels above the outermost transaction.
func (l *Levels) Depth() int {
	return len(l.stack) - 1
}

// Push enters a new level. It returns the tokens active before the push and
// the tokens of the new level.
func (l *Levels) Push() (captured, entered Tokens) {
	captured = l.Active()
	entered = l.next()
	l.stack = append(l.stack, entered)
	return captured, entered
}

// Check verifies that the innermost level may be resolved back to restore.
func (l *Levels) Check(restore Tokens) *Failure {
	if l.Depth() == 0 {
		return &Failure{
			Kind:    KindEngine,
			Code:    CodeNoSubTransaction,
			Message: "no nested level is open",
		}
	}
	if parent := l.stack[len(l.stack)-2]; parent != restore {
		return &Failure{
			Kind:    KindEngine,
			Code:    CodeOutOfOrder,
			Message: "nested level resolved out of order",
			Detail:  "expected " + parent.String() + ", got " + restore.String(),
		}
	}
	return nil
}

// Pop leaves the innermost level and returns the tokens now active.
func (l *Levels) Pop() Tokens {
	if l.Depth() > 0 {
		l.stack = l.stack[:len(l.stack)-1]
	}
	return l.Active()
}

// Reset drops every nested level.
func (l *Levels) Reset() {
	l.stack = l.stack[:1]
}
