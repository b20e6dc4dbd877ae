package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/subxact/internal/host"
	"github.com/roach88/subxact/internal/store"
)

// NewSession opens an in-memory store and starts a session on it with
// deterministic tokens. The session is rolled back and the store closed
// when the test ends.
//
// setup statements run in the session before it is returned.
func NewSession(t *testing.T, setup ...string) *store.Session {
	t.Helper()

	st, err := store.Open(":memory:",
		store.WithIDGenerator(NewSequenceIDs("t")),
		store.WithLogger(DiscardLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess, err := st.Session(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Finish(context.Background(), false) })

	for _, stmt := range setup {
		_, err := sess.Execute(context.Background(), host.Command{Text: stmt})
		require.NoError(t, err, "setup statement %q", stmt)
	}
	return sess
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
