package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/subxact/internal/checked"
	"github.com/roach88/subxact/internal/config"
	"github.com/roach88/subxact/internal/datum"
	"github.com/roach88/subxact/internal/host"
	"github.com/roach88/subxact/internal/pgstore"
	"github.com/roach88/subxact/internal/store"
	"github.com/roach88/subxact/internal/subtxn"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Database  string // SQLite path or PostgreSQL URL, overrides the environment
	Driver    string // sqlite | postgres, overrides the environment
	Rollback  bool   // roll back the outer transaction instead of committing
	Unchecked bool   // let the first engine failure abort the whole run
}

// StatementResult is the outcome of one statement.
type StatementResult struct {
	Command   string
	Columns   []string
	Rows      []datum.Row
	Processed int64
	Err       error
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [flags] SQL...",
		Short: "Run statements, each in its own sub-transaction",
		Long: `Run statements in one outer transaction, each in a nested scope of its own.

A statement that fails is rolled back on its own and reported; the others
are kept. With --unchecked the first failure aborts the run and nothing is
kept. The outer transaction commits at the end unless --rollback is given.

Exit codes:
  0 - All statements succeeded
  1 - One or more statements failed
  2 - Command error (invalid flags, database unreachable, etc.)

Examples:
  subxact exec "CREATE TABLE t (x INTEGER)" "INSERT INTO t VALUES (1)"
  subxact exec --db app.db --rollback "DELETE FROM t" "SELECT count(*) FROM t"
  subxact exec --driver postgres --db postgres://localhost/app "SELECT 1"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "database path or URL (default from SUBXACT_DB / SUBXACT_POSTGRES_URL)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "database driver: sqlite|postgres (default from SUBXACT_DRIVER)")
	cmd.Flags().BoolVar(&opts.Rollback, "rollback", false, "roll back instead of committing")
	cmd.Flags().BoolVar(&opts.Unchecked, "unchecked", false, "abort on the first failure")

	return cmd
}

// session is an engine session that can be finished.
type session interface {
	host.Engine
	Finish(ctx context.Context, commit bool) error
}

func runExec(ctx context.Context, opts *ExecOptions, statements []string, cmd *cobra.Command) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := opts.logger()

	cfg := opts.Config
	if opts.Driver != "" {
		cfg.Driver = opts.Driver
	}
	if opts.Database != "" {
		if cfg.Driver == config.DriverPostgres {
			cfg.PostgresURL = opts.Database
		} else {
			cfg.Database = opts.Database
		}
	}
	if err := cfg.Validate(); err != nil {
		_ = out.Error("E_CONFIG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	sess, closeStore, err := openSession(ctx, cfg, logger)
	if err != nil {
		_ = out.Error("E_CONNECT", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer closeStore()
	out.VerboseLog("driver=%s statements=%d", cfg.Driver, len(statements))

	client := subtxn.NewClient(sess, subtxn.WithLogger(logger))
	results := make([]StatementResult, 0, len(statements))
	failure := client.Protect(func() {
		for _, stmt := range statements {
			if opts.Unchecked {
				results = append(results, execUnchecked(ctx, client, stmt))
			} else {
				results = append(results, execChecked(ctx, client, stmt))
			}
		}
	})

	commit := !opts.Rollback && failure == nil
	if err := sess.Finish(context.WithoutCancel(ctx), commit); err != nil {
		_ = out.Error("E_FINISH", err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to finish transaction", err)
	}
	logger.Debug("exec finished", "committed", commit, "statements", len(results))

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if err := writeResults(out, results, failed, failure, commit); err != nil {
		return err
	}

	if failure != nil {
		return WrapExitError(ExitFailure, "statement failed", failure)
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d statement(s) failed", failed))
	}
	return nil
}

func openSession(ctx context.Context, cfg config.Config, logger *slog.Logger) (session, func(), error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := pgstore.Connect(ctx, cfg.PostgresURL, pgstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		sess, err := st.Session(ctx)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		return sess, st.Close, nil
	default:
		st, err := store.Open(cfg.Database, store.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		sess, err := st.Session(ctx)
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		return sess, func() { st.Close() }, nil
	}
}

// execChecked runs stmt in a scope of its own through the error boundary.
func execChecked(ctx context.Context, client *subtxn.Client, stmt string) StatementResult {
	rs, err := checked.ClientWrite(ctx, client, stmt, 0)
	return newStatementResult(stmt, rs, err)
}

// execUnchecked runs stmt in a scope of its own. An engine failure is not
// caught here and ends the whole run.
func execUnchecked(ctx context.Context, client *subtxn.Client, stmt string) StatementResult {
	return subtxn.Open(ctx, client, func(tx *subtxn.SubTxn[*subtxn.Client, subtxn.CommitOnDrop]) StatementResult {
		rs, err := tx.Update(ctx, stmt, 0)
		if err != nil {
			tx.Rollback()
		}
		return newStatementResult(stmt, rs, err)
	})
}

func newStatementResult(stmt string, rs *host.ResultSet, err error) StatementResult {
	r := StatementResult{Command: stmt, Err: err}
	if rs != nil {
		r.Columns = rs.Columns
		r.Rows = rs.Rows
		r.Processed = rs.Processed
	}
	return r
}

func writeResults(out *OutputFormatter, results []StatementResult, failed int, failure *host.Failure, committed bool) error {
	if out.Format == "json" {
		items := make([]any, len(results))
		for i, r := range results {
			items[i] = r.canonical()
		}
		data := map[string]any{
			"statements": items,
			"committed":  committed,
		}
		if failure != nil {
			return out.Write(CLIResponse{
				Status: "error",
				Data:   data,
				Error:  &CLIError{Code: "E_ENGINE", Message: failure.Error(), Details: failureDetails(failure)},
			})
		}
		if failed > 0 {
			return out.Write(CLIResponse{
				Status: "error",
				Data:   data,
				Error:  &CLIError{Code: "E_STATEMENT_FAILED", Message: fmt.Sprintf("%d statement(s) failed", failed)},
			})
		}
		return out.Write(CLIResponse{Status: "ok", Data: data})
	}

	w := out.Writer
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "✗ %s\n", r.Command)
			fmt.Fprintf(w, "  %v\n", r.Err)
			continue
		}
		fmt.Fprintf(w, "✓ %s (%d row%s)\n", r.Command, r.Processed, plural(r.Processed))
		if len(r.Columns) > 0 {
			fmt.Fprintf(w, "  %s\n", strings.Join(r.Columns, "\t"))
			for _, row := range r.Rows {
				cells := make([]string, len(row))
				for i, v := range row {
					cells[i] = v.String()
				}
				fmt.Fprintf(w, "  %s\n", strings.Join(cells, "\t"))
			}
		}
	}
	if failure != nil {
		fmt.Fprintf(w, "Error [E_ENGINE]: %v\n", failure)
	}
	if committed {
		fmt.Fprintln(w, "committed")
	} else {
		fmt.Fprintln(w, "rolled back")
	}
	return nil
}

func (r StatementResult) canonical() map[string]any {
	m := map[string]any{"command": r.Command}
	if r.Err != nil {
		e := map[string]any{"message": r.Err.Error()}
		var ce *host.CommandError
		if errors.As(r.Err, &ce) {
			e["code"] = string(ce.Code)
		} else if f, ok := host.AsFailure(r.Err); ok {
			e["code"] = f.Code
		}
		m["error"] = e
		return m
	}
	m["processed"] = r.Processed
	if len(r.Columns) > 0 {
		cols := make([]any, len(r.Columns))
		for i, c := range r.Columns {
			cols[i] = c
		}
		m["columns"] = cols
		m["rows"] = r.Rows
	}
	return m
}

func failureDetails(f *host.Failure) map[string]any {
	d := map[string]any{"code": f.Code}
	if f.Detail != "" {
		d["detail"] = f.Detail
	}
	if f.Hint != "" {
		d["hint"] = f.Hint
	}
	if f.Command != "" {
		d["command"] = f.Command
	}
	return d
}

func plural(n int64) string {
	if n == 1 {
		return ""
	}
	return "s"
}
