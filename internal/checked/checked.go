package checked

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/subxact/internal/host"
	"github.com/roach88/subxact/internal/subtxn"
)

var tracer = otel.Tracer("github.com/roach88/subxact/internal/checked")

// Read runs a read-only command in the scope of tx.
//
// On success it returns the rows and the handle to continue with. On
// failure it returns an *Error and no handle; the scope is rolled back.
func Read[P subtxn.Parent, D subtxn.DropPolicy](
	ctx context.Context,
	tx *subtxn.SubTxn[P, D],
	query string,
	limit int64,
	args ...any,
) (*host.ResultSet, *subtxn.SubTxn[P, D], error) {
	return run(ctx, tx, host.Command{Text: query, Limit: limit, Args: args, ReadOnly: true})
}

// Write runs a command that may modify data in the scope of tx. It behaves
// like Read otherwise.
func Write[P subtxn.Parent, D subtxn.DropPolicy](
	ctx context.Context,
	tx *subtxn.SubTxn[P, D],
	query string,
	limit int64,
	args ...any,
) (*host.ResultSet, *subtxn.SubTxn[P, D], error) {
	return run(ctx, tx, host.Command{Text: query, Limit: limit, Args: args})
}

// ClientRead runs a read-only command on the outermost level. The command
// gets a scope of its own, so a failure leaves the client untouched.
func ClientRead(ctx context.Context, c *subtxn.Client, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return runOnClient(ctx, c, host.Command{Text: query, Limit: limit, Args: args, ReadOnly: true})
}

// ClientWrite runs a command that may modify data on the outermost level.
// Its effects are kept only if it succeeds.
func ClientWrite(ctx context.Context, c *subtxn.Client, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return runOnClient(ctx, c, host.Command{Text: query, Limit: limit, Args: args})
}

type outcome struct {
	rs  *host.ResultSet
	err error
}

func runOnClient(ctx context.Context, c *subtxn.Client, cmd host.Command) (*host.ResultSet, error) {
	o := subtxn.Open(ctx, c, func(tx *subtxn.SubTxn[*subtxn.Client, subtxn.CommitOnDrop]) outcome {
		rs, tx, err := run(ctx, tx, cmd)
		if err != nil {
			return outcome{err: err}
		}
		tx.Commit()
		return outcome{rs: rs}
	})
	return o.rs, o.err
}

// run executes cmd under the boundary. A commit-on-drop handle is demoted
// for the duration of the call so a failed command cannot be committed by a
// later disposal.
func run[P subtxn.Parent, D subtxn.DropPolicy](
	ctx context.Context,
	tx *subtxn.SubTxn[P, D],
	cmd host.Command,
) (*host.ResultSet, *subtxn.SubTxn[P, D], error) {
	op := "write"
	if cmd.ReadOnly {
		op = "read"
	}
	ctx, span := tracer.Start(ctx, "subxact.checked."+op, trace.WithAttributes(
		attribute.String("db.query.text", cmd.Text),
		attribute.Int("subxact.depth", tx.Depth()),
		attribute.String("subxact.policy", tx.Policy().String()),
	))
	defer span.End()

	var (
		rs  *host.ResultSet
		out *subtxn.SubTxn[P, D]
		err error
	)
	if subtxn.PolicyOf[D]() == subtxn.PolicyRollback {
		rs, out, err = subtxn.CatchError(tx, execute[P, D](ctx, cmd))
	} else {
		var demoted *subtxn.SubTxn[P, subtxn.RollbackOnDrop]
		rs, demoted, err = subtxn.CatchError(
			subtxn.Retag[subtxn.RollbackOnDrop](tx),
			execute[P, subtxn.RollbackOnDrop](ctx, cmd),
		)
		if err == nil {
			out = subtxn.Retag[D](demoted)
		}
	}
	if err != nil {
		cerr := wrap(cmd, err)
		span.RecordError(cerr)
		span.SetStatus(codes.Error, cerr.Error())
		return nil, nil, cerr
	}
	span.SetAttributes(attribute.Int64("subxact.rows", rs.Processed))
	return rs, out, nil
}

func execute[P subtxn.Parent, D subtxn.DropPolicy](
	ctx context.Context,
	cmd host.Command,
) func(*subtxn.SubTxn[P, D]) (*host.ResultSet, *subtxn.SubTxn[P, D], error) {
	return func(tx *subtxn.SubTxn[P, D]) (*host.ResultSet, *subtxn.SubTxn[P, D], error) {
		rs, err := tx.Exec(ctx, cmd)
		return rs, tx, err
	}
}
