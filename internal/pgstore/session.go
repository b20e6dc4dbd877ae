package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/subxact/internal/datum"
	"github.com/roach88/subxact/internal/host"
)

// Session is one outermost transaction on a pooled connection.
// It implements host.Engine and is not safe for concurrent use.
type Session struct {
	txs    []pgx.Tx // txs[0] is the outermost transaction
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

// Depth returns the number of open nested levels.
func (s *Session) Depth() int {
	return s.levels.Depth()
}

func (s *Session) top() pgx.Tx {
	return s.txs[len(s.txs)-1]
}

// BeginNested opens a pseudo nested transaction and returns the tokens
// active before it.
func (s *Session) BeginNested(ctx context.Context) host.Tokens {
	s.mustBeOpen()
	tx, err := s.top().Begin(ctx)
	if err != nil {
		host.Raise(toFailure(err, "SAVEPOINT"))
	}
	captured, _ := s.levels.Push()
	s.txs = append(s.txs, tx)
	s.logger.Debug("nested transaction opened", "depth", s.levels.Depth())
	return captured
}

// CommitNested releases the innermost nested transaction.
func (s *Session) CommitNested(ctx context.Context, restore host.Tokens) {
	s.resolve(ctx, restore, true)
}

// RollbackNested rolls back the innermost nested transaction.
func (s *Session) RollbackNested(ctx context.Context, restore host.Tokens) {
	s.resolve(ctx, restore, false)
}

// resolve ends the innermost nested transaction. The level is popped and
// restore becomes active even when the statement fails.
func (s *Session) resolve(ctx context.Context, restore host.Tokens, commit bool) {
	s.mustBeOpen()
	if f := s.levels.Check(restore); f != nil {
		host.Raise(f)
	}
	tx := s.top()
	defer func() {
		s.txs = s.txs[:len(s.txs)-1]
		s.levels.Pop()
		s.logger.Debug("nested transaction resolved", "commit", commit, "depth", s.levels.Depth())
	}()

	ctx = context.WithoutCancel(ctx)
	if commit {
		if err := tx.Commit(ctx); err != nil {
			host.Raise(toFailure(err, "RELEASE SAVEPOINT"))
		}
		return
	}
	if err := tx.Rollback(ctx); err != nil {
		host.Raise(toFailure(err, "ROLLBACK TO SAVEPOINT"))
	}
}

// Execute runs cmd at the innermost level. Validation errors are returned;
// engine errors are raised.
//
// Read-only commands run in a nested transaction of their own that is
// switched to read-only mode and rolled back afterwards.
func (s *Session) Execute(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s.mustBeOpen()

	tx := s.top()
	if cmd.ReadOnly {
		read, err := tx.Begin(ctx)
		if err != nil {
			host.Raise(toFailure(err, cmd.Text))
		}
		defer func() {
			if err := read.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				s.logger.Error("failed to leave read-only mode", "error", err)
			}
		}()
		if _, err := read.Exec(ctx, "SET LOCAL transaction_read_only = on"); err != nil {
			host.Raise(toFailure(err, cmd.Text))
		}
		tx = read
	}

	rs, err := query(ctx, tx, cmd)
	if err != nil {
		host.Raise(toFailure(err, cmd.Text))
	}
	return rs, nil
}

func query(ctx context.Context, tx pgx.Tx, cmd host.Command) (*host.ResultSet, error) {
	rows, err := tx.Query(ctx, cmd.Text, cmd.DriverArgs()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &host.ResultSet{Columns: make([]string, len(fields))}
	for i, f := range fields {
		rs.Columns[i] = f.Name
	}

	for !cmd.LimitReached(len(rs.Rows)) && rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(datum.Row, len(values))
		for i, v := range values {
			row[i] = datum.FromDriver(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		rs.Columns = nil
		rs.Processed = rows.CommandTag().RowsAffected()
	} else {
		rs.Processed = int64(len(rs.Rows))
	}
	return rs, nil
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

// Finish ends the outermost transaction and releases the connection. Nested
// transactions still open are rolled back first. Calling Finish again is a
// no-op.
func (s *Session) Finish(ctx context.Context, commit bool) error {
	if s.done {
		return nil
	}
	s.done = true

	var errs []error
	if depth := s.levels.Depth(); depth > 0 {
		s.logger.Warn("finishing session with open nested transactions", "depth", depth)
		for len(s.txs) > 1 {
			if err := s.top().Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				errs = append(errs, fmt.Errorf("rollback nested transaction: %w", err))
			}
			s.txs = s.txs[:len(s.txs)-1]
			s.levels.Pop()
		}
	}

	root := s.txs[0]
	if commit {
		if err := root.Commit(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session: commit: %w", err))
			// releases the connection if the commit never reached the server
			_ = root.Rollback(context.WithoutCancel(ctx))
		}
	} else if err := root.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		errs = append(errs, fmt.Errorf("session: rollback: %w", err))
	}
	s.logger.Debug("session finished", "commit", commit)
	return errors.Join(errs...)
}

// toFailure converts a pgx error into an engine failure.
func toFailure(err error, command string) *host.Failure {
	f := &host.Failure{
		Kind:    host.KindEngine,
		Message: err.Error(),
		Command: command,
	}
	var pgErr *pgconn.PgError
	switch {
	case errors.As(err, &pgErr):
		f.Code = pgErr.Code
		f.Message = pgErr.Message
		f.Detail = pgErr.Detail
		f.Hint = pgErr.Hint
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Code = host.CodeCanceled
	case errors.Is(err, pgx.ErrTxClosed), pgconn.SafeToRetry(err):
		f.Code = host.CodeConnection
	}
	return f
}
