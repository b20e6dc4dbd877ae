package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: %s
description: inner rollback keeps the outer write
setup:
  - CREATE TABLE t (x INTEGER)
steps:
  - open:
      resolve: commit
      steps:
        - write: INSERT INTO t VALUES (1)
        - open:
            resolve: rollback
            steps:
              - write: INSERT INTO t VALUES (2)
assertions:
  - query: SELECT x FROM t
    rows: [[1]]
`

const failingScenario = `name: failing
description: expects a row that is never written
setup:
  - CREATE TABLE t (x INTEGER)
steps:
  - read: SELECT count(*) FROM t
assertions:
  - query: SELECT count(*) FROM t
    rows: [[1]]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandPassing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "nested.yaml"), fmt.Sprintf(passingScenario, "nested"))

	out, err := runTestCommand(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ nested")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandFailing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "Assertion failed: SELECT count(*) FROM t")
}

func TestTestCommandFailingJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\nunknown: 1\n")

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "Load error")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "nested.yaml")
	writeFile(t, scenarioPath, fmt.Sprintf(passingScenario, "nested"))

	out, err := runTestCommand(t, "text", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ nested (golden updated)")

	golden, err := os.ReadFile(goldenFilePath(scenarioPath))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"nested"`)
	assert.Contains(t, string(golden), `{"depth":2,"kind":"rollback","seq":5}`)

	_, err = runTestCommand(t, "text", dir)
	require.NoError(t, err)

	// a stale golden file fails the run
	require.NoError(t, os.WriteFile(goldenFilePath(scenarioPath), []byte(`{"scenario_name":"nested","trace":[]}`), 0644))
	out, err = runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "Golden file mismatch")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "")
	writeFile(t, filepath.Join(dir, "b.yml"), "")
	writeFile(t, filepath.Join(dir, "c.cue"), "")
	writeFile(t, filepath.Join(dir, "d.txt"), "")
	writeFile(t, filepath.Join(dir, "sub", "e.yaml"), "")
	writeFile(t, filepath.Join(dir, "golden", "a.golden"), "")
	writeFile(t, filepath.Join(dir, "golden", "f.yaml"), "")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yml"),
		filepath.Join(dir, "c.cue"),
		filepath.Join(dir, "sub", "e.yaml"),
	}, files)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "nested_commit.yaml"), "")
	writeFile(t, filepath.Join(dir, "nested_rollback.cue"), "")
	writeFile(t, filepath.Join(dir, "checked.yaml"), "")

	files, err := findScenarioFiles(dir, "nested_*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "nested.golden"),
		goldenFilePath(filepath.Join("scenarios", "nested.yaml")))
	assert.Equal(t,
		filepath.Join("s", "golden", "x.golden"),
		goldenFilePath(filepath.Join("s", "x.cue")))
}

func TestTestCommandPassingJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "nested.yaml"), fmt.Sprintf(passingScenario, "nested"))
	writeFile(t, filepath.Join(dir, "failing.yaml"), failingScenario)

	out, err := runTestCommand(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Data struct {
			Scenarios []struct {
				Name   string   `json:"name"`
				Pass   bool     `json:"pass"`
				Errors []string `json:"errors"`
			} `json:"scenarios"`
			Passed int `json:"passed"`
			Failed int `json:"failed"`
			Total  int `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Equal(t, 2, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 2)
	for _, s := range resp.Data.Scenarios {
		if s.Name == "nested" {
			assert.True(t, s.Pass)
			assert.Empty(t, s.Errors)
		} else {
			assert.False(t, s.Pass)
			assert.NotEmpty(t, s.Errors)
		}
	}
}

func TestTestCommandInvalidFilter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "nested.yaml"), fmt.Sprintf(passingScenario, "nested"))

	_, err := runTestCommand(t, "text", "--filter", "[", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
