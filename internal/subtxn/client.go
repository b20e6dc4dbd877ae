package subtxn

import (
	"context"
	"log/slog"
	"runtime/debug"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/subxact/internal/host"
)

const instrumentationName = "github.com/roach88/subxact/internal/subtxn"

// Client is the outermost level of a session. It is always open and is the
// root parent of every scope.
type Client struct {
	sess *session
}

// Option configures a Client.
type Option func(*session)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *session) { s.logger = logger }
}

// WithTracer sets the tracer used for scope spans. Defaults to the global
// OpenTelemetry provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *session) { s.tracer = tracer }
}

// NewClient wraps an engine session.
func NewClient(engine host.Engine, opts ...Option) *Client {
	s := &session{
		engine: engine,
		logger: slog.Default(),
		tracer: otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return &Client{sess: s}
}

func (c *Client) enter() *session {
	if len(c.sess.open) > 0 {
		panic(ErrScopeBusy)
	}
	return c.sess
}

// Exec runs cmd directly at the outermost level. Engine failures are raised,
// not returned.
func (c *Client) Exec(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	return c.enter().execute(ctx, cmd)
}

// Select runs a read-only command directly at the outermost level.
func (c *Client) Select(ctx context.Context, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return c.Exec(ctx, host.Command{Text: query, Limit: limit, Args: args, ReadOnly: true})
}

// Update runs a command directly at the outermost level.
func (c *Client) Update(ctx context.Context, query string, limit int64, args ...any) (*host.ResultSet, error) {
	return c.Exec(ctx, host.Command{Text: query, Limit: limit, Args: args})
}

// Protect runs fn inside the engine's failure boundary.
func (c *Client) Protect(fn func()) *host.Failure {
	return c.sess.engine.Protect(fn)
}

// Depth returns the number of nested levels open in the engine.
func (c *Client) Depth() int {
	return c.sess.engine.Depth()
}

// Tokens returns the engine's active tokens.
func (c *Client) Tokens() host.Tokens {
	return c.sess.engine.Active()
}

// session is the state shared by a Client and every scope opened under it.
type session struct {
	engine host.Engine
	logger *slog.Logger
	tracer trace.Tracer
	open   []*scope // innermost last
}

func (s *session) top() *scope {
	if len(s.open) == 0 {
		return nil
	}
	return s.open[len(s.open)-1]
}

func (s *session) execute(ctx context.Context, cmd host.Command) (*host.ResultSet, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	return s.engine.Execute(ctx, cmd)
}

// begin opens a nested level in the engine and pushes its scope.
func (s *session) begin(ctx context.Context) *scope {
	ctx, span := s.tracer.Start(ctx, "subxact.scope",
		trace.WithAttributes(attribute.Int("subxact.depth", s.engine.Depth()+1)))

	var restore host.Tokens
	if f := s.engine.Protect(func() { restore = s.engine.BeginNested(ctx) }); f != nil {
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Error())
		span.End()
		host.Raise(f)
	}

	sc := &scope{
		sess:    s,
		ctx:     ctx,
		span:    span,
		restore: restore,
		depth:   s.engine.Depth(),
		policy:  PolicyCommit,
		armed:   true,
	}
	s.open = append(s.open, sc)
	s.logger.Debug("sub-transaction opened", "depth", sc.depth, "tokens", s.engine.Active().String())
	return sc
}

// scope is one open nested level.
type scope struct {
	sess    *session
	ctx     context.Context
	span    trace.Span
	restore host.Tokens // active before the scope was opened
	depth   int
	policy  Policy

	// armed is false while an internal clone owns resolution.
	armed    bool
	resolved bool
}

// resolve commits or rolls back the scope exactly once. The scope counts as
// resolved before the engine is asked, so a failing resolution is never
// retried by another path.
func (sc *scope) resolve(p Policy, reason string) {
	if sc.resolved {
		panic(ErrHandleConsumed)
	}
	if sc.sess.top() != sc {
		panic(ErrOutOfOrder)
	}
	sc.resolved = true
	sc.sess.open = sc.sess.open[:len(sc.sess.open)-1]

	sc.span.SetAttributes(
		attribute.String("subxact.resolution", p.String()),
		attribute.String("subxact.reason", reason),
	)
	defer sc.span.End()

	if p == PolicyCommit {
		sc.sess.engine.CommitNested(sc.ctx, sc.restore)
	} else {
		sc.sess.engine.RollbackNested(sc.ctx, sc.restore)
	}
	sc.sess.logger.Debug("sub-transaction resolved",
		"depth", sc.depth,
		"resolution", p.String(),
		"reason", reason,
	)
}

// abandon rolls back a scope whose body panicked with r, then panics again.
func (sc *scope) abandon(r any) {
	sc.sess.logger.Error("sub-transaction body panicked",
		"depth", sc.depth,
		"panic", r,
		"stack", string(debug.Stack()),
	)
	sc.forceRollback("panic", r)
	panic(r)
}

// forceRollback rolls back a scope left without a normal return. A failing
// rollback is logged and attached to r when r is a *host.Failure.
func (sc *scope) forceRollback(reason string, r any) {
	if sc.resolved {
		return
	}
	rf := sc.sess.engine.Protect(func() { sc.resolve(PolicyRollback, reason) })
	if rf == nil {
		return
	}
	sc.span.RecordError(rf)
	sc.sess.logger.Error("forced rollback failed", "depth", sc.depth, "reason", reason, "error", rf)
	if f, ok := r.(*host.Failure); ok && f.Rollback == nil {
		f.Rollback = rf
	}
}
