package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/subxact/internal/host"
)

// counterIDs yields "n1", "n2", ... for predictable savepoint names.
type counterIDs struct{ n int }

func (c *counterIDs) Generate() string {
	c.n++
	return fmt.Sprintf("n%d", c.n)
}

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path,
		WithIDGenerator(&counterIDs{}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession starts a session with a table t(x INTEGER).
func createTestSession(t *testing.T) *Session {
	t.Helper()
	s := createTestStore(t)
	sess, err := s.Session(context.Background())
	if err != nil {
		t.Fatalf("Session() failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Finish(context.Background(), false) })
	mustExec(t, sess, "CREATE TABLE t (x INTEGER)")
	return sess
}

func mustExec(t *testing.T, sess *Session, text string, args ...any) *host.ResultSet {
	t.Helper()
	rs, err := sess.Execute(context.Background(), host.Command{Text: text, Args: args})
	if err != nil {
		t.Fatalf("Execute(%q) failed: %v", text, err)
	}
	return rs
}

func count(t *testing.T, sess *Session) int64 {
	t.Helper()
	n, err := mustExec(t, sess, "SELECT count(*) FROM t").Int(0, 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
