package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/subxact/internal/host"
)

// Store is a PostgreSQL connection pool that hands out engine sessions.
type Store struct {
	pool   *pgxpool.Pool
	ids    host.IDGenerator
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used for level tokens.
func WithIDGenerator(ids host.IDGenerator) Option {
	return func(s *Store) { s.ids = ids }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Connect creates a pool for databaseURL and checks that it is reachable.
//
// Connections through a transaction pooler on port 6543 use
// QueryExecModeCacheDescribe, since prepared statements do not survive
// between transactions there. An explicit default_query_exec_mode in the URL
// takes precedence.
func Connect(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	// each session pins a connection for its whole lifetime
	config.MaxConns = 8
	config.MinConns = 1

	if config.ConnConfig.Port == 6543 && config.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, ids: host.UUIDv7Generator{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Debug("connected to postgres",
		"host", config.ConnConfig.Host,
		"database", config.ConnConfig.Database,
	)
	return s, nil
}

// Close closes every connection in the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Session acquires a connection and begins the outermost transaction on it.
// The caller must end it with Finish.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: begin: %w", err)
	}
	s.logger.Debug("session started")
	return &Session{
		txs:    []pgx.Tx{tx},
		levels: host.NewLevels(s.ids),
		logger: s.logger,
	}, nil
}
