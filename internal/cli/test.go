package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/subxact/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // rewrite golden traces instead of comparing them
	Filter string // glob matched against scenario file names
}

// verdict is the outcome of one scenario file. A verdict without problems
// is a pass.
type verdict struct {
	name     string
	updated  bool
	problems []string
}

func (v verdict) pass() bool { return len(v.problems) == 0 }

func (v verdict) data() map[string]any {
	m := map[string]any{"name": v.name, "pass": v.pass()}
	if !v.pass() {
		problems := make([]any, len(v.problems))
		for i, p := range v.problems {
			problems[i] = p
		}
		m["errors"] = problems
	}
	return m
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files",
		Long: `Run every scenario under a directory, each against a fresh in-memory database.

A scenario passes when its assertions hold and, if golden/<name>.golden
exists beside it, its trace matches that file byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  subxact test ./scenarios
  subxact test ./scenarios --filter "nested_*"
  subxact test ./scenarios --update
  subxact test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden traces")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	w := cmd.OutOrStdout()
	text := opts.Format != "json"
	if len(files) == 0 && text {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	var failed int
	verdicts := make([]any, 0, len(files))
	for _, path := range files {
		v := checkScenario(path, opts.Update)
		if !v.pass() {
			failed++
		}
		verdicts = append(verdicts, v.data())
		if text {
			printVerdict(w, v)
		}
		opts.logger().Debug("scenario checked", "file", path, "pass", v.pass())
	}

	if text {
		fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", len(files)-failed, failed, len(files))
		if failed == 0 {
			fmt.Fprintln(w, "✓ All scenarios passed")
		}
	} else {
		resp := CLIResponse{Status: "ok", Data: map[string]any{
			"scenarios": verdicts,
			"passed":    int64(len(files) - failed),
			"failed":    int64(failed),
			"total":     int64(len(files)),
		}}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: fmt.Sprintf("%d scenario(s) failed", failed)}
		}
		if err := (&OutputFormatter{Format: "json", Writer: w}).Write(resp); err != nil {
			return err
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", failed))
	}
	return nil
}

func printVerdict(w io.Writer, v verdict) {
	switch {
	case !v.pass():
		fmt.Fprintf(w, "✗ %s\n", v.name)
		for _, p := range v.problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
	case v.updated:
		fmt.Fprintf(w, "✓ %s (golden updated)\n", v.name)
	default:
		fmt.Fprintf(w, "✓ %s\n", v.name)
	}
}

// checkScenario loads and runs one scenario file, then checks or rewrites
// its golden trace.
func checkScenario(path string, update bool) verdict {
	s, err := harness.LoadScenario(path)
	if err != nil {
		return verdict{name: filepath.Base(path), problems: []string{fmt.Sprintf("Load error: %v", err)}}
	}
	v := verdict{name: s.Name}

	result, err := harness.Run(s)
	if err != nil {
		v.problems = append(v.problems, fmt.Sprintf("Execution error: %v", err))
		return v
	}
	v.problems = append(v.problems, result.Errors...)

	snapshot, err := harness.Snapshot(s.Name, result)
	if err != nil {
		v.problems = append(v.problems, fmt.Sprintf("Snapshot error: %v", err))
		return v
	}

	golden := goldenFilePath(path)
	if update {
		if err := writeGolden(golden, snapshot); err != nil {
			v.problems = append(v.problems, fmt.Sprintf("Golden update error: %v", err))
		}
		v.updated = true
		return v
	}

	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// assertions only
	case err != nil:
		v.problems = append(v.problems, fmt.Sprintf("Golden read error: %v", err))
	case !bytes.Equal(want, snapshot):
		v.problems = append(v.problems, "Golden file mismatch (run with --update to regenerate)")
	}
	return v
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// goldenFilePath maps dir/name.ext to dir/golden/name.golden.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// findScenarioFiles lists .yaml, .yml and .cue files under dir. Golden
// directories below dir are skipped.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if _, err := filepath.Match(filter, ""); err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "golden" && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" && ext != ".cue" {
			return nil
		}
		if filter != "" {
			// pattern was validated above
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
