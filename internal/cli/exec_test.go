package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/subxact/internal/config"
	"github.com/roach88/subxact/internal/host"
	"github.com/roach88/subxact/internal/store"
	"github.com/roach88/subxact/internal/testutil"
)

func testRootOptions(t *testing.T, format string) (*RootOptions, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "exec.db")
	return &RootOptions{
		Format: format,
		Config: config.Config{
			Driver:    config.DriverSQLite,
			Database:  db,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Logger: testutil.DiscardLogger(),
	}, db
}

func runExecCommand(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExecCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func countRows(t *testing.T, db, query string) int64 {
	t.Helper()
	st, err := store.Open(db, store.WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	defer st.Close()

	sess, err := st.Session(context.Background())
	require.NoError(t, err)
	defer func() { _ = sess.Finish(context.Background(), false) }()

	rs, err := sess.Execute(context.Background(), host.Command{Text: query, ReadOnly: true})
	require.NoError(t, err)
	n, err := rs.Int(0, 0)
	require.NoError(t, err)
	return n
}

func TestExecCommandMissingArgs(t *testing.T) {
	opts, _ := testRootOptions(t, "text")

	_, err := runExecCommand(t, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestExecCommits(t *testing.T) {
	opts, db := testRootOptions(t, "text")

	out, err := runExecCommand(t, opts,
		"CREATE TABLE t (x INTEGER)",
		"INSERT INTO t VALUES (1), (2)",
		"SELECT x FROM t ORDER BY x",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ INSERT INTO t VALUES (1), (2) (2 rows)")
	assert.Contains(t, out, "✓ SELECT x FROM t ORDER BY x (2 rows)\n  x\n  1\n  2\n")
	assert.Contains(t, out, "committed")
	assert.Equal(t, int64(2), countRows(t, db, "SELECT count(*) FROM t"))
}

func TestExecRollbackFlag(t *testing.T) {
	opts, db := testRootOptions(t, "text")

	_, err := runExecCommand(t, opts, "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)

	out, err := runExecCommand(t, opts, "--rollback", "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back")
	assert.Equal(t, int64(0), countRows(t, db, "SELECT count(*) FROM t"))
}

func TestExecFailedStatementRolledBackAlone(t *testing.T) {
	opts, db := testRootOptions(t, "text")

	out, err := runExecCommand(t, opts,
		"CREATE TABLE t (x INTEGER)",
		"INSERT INTO t VALUES (1)",
		"INSERT INTO missing VALUES (2)",
		"INSERT INTO t VALUES (3)",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 statement(s) failed")

	assert.Contains(t, out, "✗ INSERT INTO missing VALUES (2)")
	assert.Contains(t, out, "no such table: missing")
	assert.Contains(t, out, "committed")
	assert.Equal(t, int64(2), countRows(t, db, "SELECT count(*) FROM t"))
}

func TestExecUncheckedAbortsRun(t *testing.T) {
	opts, db := testRootOptions(t, "text")

	_, err := runExecCommand(t, opts, "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)

	out, err := runExecCommand(t, opts, "--unchecked",
		"INSERT INTO t VALUES (1)",
		"INSERT INTO missing VALUES (2)",
		"INSERT INTO t VALUES (3)",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, out, "✓ INSERT INTO t VALUES (1)")
	assert.NotContains(t, out, "INSERT INTO t VALUES (3)")
	assert.Contains(t, out, "Error [E_ENGINE]")
	assert.Contains(t, out, "rolled back")
	assert.Equal(t, int64(0), countRows(t, db, "SELECT count(*) FROM t"))
}

func TestExecJSON(t *testing.T) {
	opts, _ := testRootOptions(t, "json")

	out, err := runExecCommand(t, opts,
		"CREATE TABLE t (x INTEGER, s TEXT)",
		"INSERT INTO t VALUES (1, 'a')",
		"SELECT x, s FROM t",
		"SLECT 1",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Equal(t,
		`{"data":{"committed":true,"statements":[`+
			`{"command":"CREATE TABLE t (x INTEGER, s TEXT)","processed":0},`+
			`{"command":"INSERT INTO t VALUES (1, 'a')","processed":1},`+
			`{"columns":["x","s"],"command":"SELECT x, s FROM t","processed":1,"rows":[[1,"a"]]},`+
			`{"command":"SLECT 1","error":{"code":"SQLITE_ERROR","message":"caught error: SQLITE_ERROR: near \"SLECT\": syntax error"}}`+
			`]},"error":{"code":"E_STATEMENT_FAILED","message":"1 statement(s) failed"},"status":"error"}`+"\n",
		out)
}

func TestExecInvalidDriver(t *testing.T) {
	opts, _ := testRootOptions(t, "text")

	out, err := runExecCommand(t, opts, "--driver", "oracle", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_CONFIG]")
}

func TestExecPostgresRequiresURL(t *testing.T) {
	opts, _ := testRootOptions(t, "text")

	_, err := runExecCommand(t, opts, "--driver", "postgres", "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "required for the postgres driver")
}

func TestExecUnreachableDatabase(t *testing.T) {
	opts, _ := testRootOptions(t, "text")

	_, err := runExecCommand(t, opts, "--db", filepath.Join(t.TempDir(), "missing", "dir", "x.db"), "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
