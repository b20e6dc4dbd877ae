package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/subxact/internal/datum"
	"github.com/roach88/subxact/internal/host"
)

// Session is one outermost transaction on a pinned connection.
// It implements host.Engine and is not safe for concurrent use.
type Session struct {
	conn   *sql.Conn
	levels *host.Levels
	logger *slog.Logger
	done   bool
}

var _ host.Engine = (*Session)(nil)

// Protect installs a failure boundary around fn.
func (s *Session) Protect(fn func()) *host.Failure {
	return host.Protect(fn)
}

// Active returns the tokens of the innermost level.
func (s *Session) Active() host.Tokens {
	return s.levels.Active()
}

// Depth returns the number of open savepoints.
func (s *Session) Depth() int {
	return s.levels.Depth()
}

// BeginNested opens a savepoint and returns the tokens active before it.
func (s *Session) BeginNested(ctx context.Context) host.Tokens {
	s.mustBeOpen()
	captured, entered := s.levels.Push()
	name := savepointName(entered)
	if err := s.exec(ctx, "SAVEPOINT "+name); err != nil {
		s.levels.Pop()
		host.Raise(toFailure(err, "SAVEPOINT "+name))
	}
	s.logger.Debug("savepoint opened", "name", name, "depth", s.levels.Depth())
	return captured
}

// CommitNested releases the innermost savepoint.
func (s *Session) CommitNested(ctx context.Context, restore host.Tokens) {
	s.resolve(ctx, restore, "RELEASE SAVEPOINT %s")
}

// RollbackNested rolls back to the innermost savepoint and releases it.
func (s *Session) RollbackNested(ctx context.Context, restore host.Tokens) {
	s.resolve(ctx, restore, "ROLLBACK TO SAVEPOINT %s", "RELEASE SAVEPOINT %s")
}

// resolve runs stmts against the innermost savepoint. The level is popped
// and restore becomes active even when a statement fails.
func (s *Session) resolve(ctx context.Context, restore host.Tokens, stmts ...string) {
	s.mustBeOpen()
	if f := s.levels.Check(restore); f != nil {
		host.Raise(f)
	}
	name := savepointName(s.levels.Active())
	defer func() {
		s.levels.Pop()
		s.logger.Debug("savepoint resolved", "name", name, "depth", s.levels.Depth())
	}()

	// Resolution must finish even if the caller's context is already done.
	ctx = context.WithoutCancel(ctx)
	for _, stmt := range stmts {
		stmt = fmt.Sprintf(stmt, name)
		if err := s.exec(ctx, stmt); err != nil {
			host.Raise(toFailure(err, stmt))
		}
	}
}

// Execute runs cmd at the innermost level. Validation errors are returned;
// engine errors are raised.
func (s *Session) Execute(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s.mustBeOpen()

	if cmd.ReadOnly {
		if err := s.exec(ctx, "PRAGMA query_only = ON"); err != nil {
			host.Raise(toFailure(err, cmd.Text))
		}
		defer func() {
			if err := s.exec(context.WithoutCancel(ctx), "PRAGMA query_only = OFF"); err != nil {
				s.logger.Error("failed to leave read-only mode", "error", err)
			}
		}()
	}

	before, err := s.totalChanges(ctx)
	if err != nil {
		host.Raise(toFailure(err, cmd.Text))
	}

	rs, err := s.query(ctx, cmd)
	if err != nil {
		host.Raise(toFailure(err, cmd.Text))
	}

	if len(rs.Columns) == 0 {
		after, err := s.totalChanges(ctx)
		if err != nil {
			host.Raise(toFailure(err, cmd.Text))
		}
		rs.Processed = after - before
	}
	return rs, nil
}

func (s *Session) query(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	// The driver returns rows only for the last statement of a query and
	// skips the ones before it; a statement list runs through Exec instead.
	if hasTrailingStatement(cmd.Text) {
		if _, err := s.conn.ExecContext(ctx, cmd.Text, cmd.DriverArgs()...); err != nil {
			return nil, err
		}
		return &host.ResultSet{}, nil
	}

	rows, err := s.conn.QueryContext(ctx, cmd.Text, cmd.DriverArgs()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &host.ResultSet{Columns: cols}
	for !cmd.LimitReached(len(rs.Rows)) && rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(datum.Row, len(cols))
		for i, v := range values {
			row[i] = datum.FromDriver(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	rs.Processed = int64(len(rs.Rows))
	return rs, nil
}

func (s *Session) totalChanges(ctx context.Context) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, "SELECT total_changes()").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Session) exec(ctx context.Context, stmt string) error {
	_, err := s.conn.ExecContext(ctx, stmt)
	return err
}

func (s *Session) mustBeOpen() {
	if s.done {
		host.Raise(&host.Failure{
			Kind:    host.KindEngine,
			Code:    host.CodeConnection,
			Message: "session is finished",
		})
	}
}

// Finish ends the outermost transaction and returns the connection to the
// pool. Savepoints still open are rolled back first. Calling Finish again is
// a no-op.
func (s *Session) Finish(ctx context.Context, commit bool) error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.conn.Close()

	var errs []error
	if depth := s.levels.Depth(); depth > 0 {
		s.logger.Warn("finishing session with open savepoints", "depth", depth)
		for s.levels.Depth() > 0 {
			name := savepointName(s.levels.Active())
			if err := s.exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
				errs = append(errs, fmt.Errorf("rollback savepoint %s: %w", name, err))
			}
			if err := s.exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
				errs = append(errs, fmt.Errorf("release savepoint %s: %w", name, err))
			}
			s.levels.Pop()
		}
	}

	stmt := "ROLLBACK"
	if commit {
		stmt = "COMMIT"
	}
	if err := s.exec(ctx, stmt); err != nil {
		errs = append(errs, fmt.Errorf("session: %s: %w", strings.ToLower(stmt), err))
		if commit {
			// leave the pooled connection outside any transaction
			if rbErr := s.exec(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
				errs = append(errs, fmt.Errorf("session: rollback after failed commit: %w", rbErr))
			}
		}
	}
	s.logger.Debug("session finished", "commit", commit)
	return errors.Join(errs...)
}

// savepointName derives an SQL identifier from the level's owner token.
func savepointName(t host.Tokens) string {
	var b strings.Builder
	b.WriteString("sp_")
	for _, r := range string(t.Owner) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// toFailure converts a driver error into an engine failure.
func toFailure(err error, command string) *host.Failure {
	f := &host.Failure{
		Kind:    host.KindEngine,
		Message: err.Error(),
		Command: command,
	}
	var serr sqlite3.Error
	switch {
	case errors.As(err, &serr):
		f.Code = codeName(serr.Code)
		f.Message = serr.Error()
		if int(serr.ExtendedCode) != int(serr.Code) {
			f.Detail = serr.ExtendedCode.Error()
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Code = host.CodeCanceled
	case errors.Is(err, sql.ErrConnDone):
		f.Code = host.CodeConnection
	}
	return f
}

var codeNames = map[sqlite3.ErrNo]string{
	sqlite3.ErrError:      "SQLITE_ERROR",
	sqlite3.ErrInternal:   "SQLITE_INTERNAL",
	sqlite3.ErrPerm:       "SQLITE_PERM",
	sqlite3.ErrAbort:      "SQLITE_ABORT",
	sqlite3.ErrBusy:       "SQLITE_BUSY",
	sqlite3.ErrLocked:     "SQLITE_LOCKED",
	sqlite3.ErrNomem:      "SQLITE_NOMEM",
	sqlite3.ErrReadonly:   "SQLITE_READONLY",
	sqlite3.ErrInterrupt:  "SQLITE_INTERRUPT",
	sqlite3.ErrIoErr:      "SQLITE_IOERR",
	sqlite3.ErrCorrupt:    "SQLITE_CORRUPT",
	sqlite3.ErrFull:       "SQLITE_FULL",
	sqlite3.ErrCantOpen:   "SQLITE_CANTOPEN",
	sqlite3.ErrSchema:     "SQLITE_SCHEMA",
	sqlite3.ErrTooBig:     "SQLITE_TOOBIG",
	sqlite3.ErrConstraint: "SQLITE_CONSTRAINT",
	sqlite3.ErrMismatch:   "SQLITE_MISMATCH",
	sqlite3.ErrMisuse:     "SQLITE_MISUSE",
	sqlite3.ErrRange:      "SQLITE_RANGE",
}

func codeName(code sqlite3.ErrNo) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("SQLITE_%d", int(code))
}
