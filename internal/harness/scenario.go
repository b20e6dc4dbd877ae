package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Scenario describes a sequence of scope operations to run against a fresh
// database, and the rows expected afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Setup statements run in the outermost transaction before the steps.
	// They must succeed.
	Setup []string `yaml:"setup,omitempty" json:"setup,omitempty"`

	// Steps run at the outermost level, in order.
	Steps []Step `yaml:"steps" json:"steps"`

	// Assertions are checked once every step has run.
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// Step is one of: a nested scope (Open), a read-only command (Read) or a
// command that may modify data (Write).
type Step struct {
	Open  *OpenStep `yaml:"open,omitempty" json:"open,omitempty"`
	Read  string    `yaml:"read,omitempty" json:"read,omitempty"`
	Write string    `yaml:"write,omitempty" json:"write,omitempty"`

	// Checked runs the command through the error boundary.
	Checked bool `yaml:"checked,omitempty" json:"checked,omitempty"`

	Limit int64 `yaml:"limit,omitempty" json:"limit,omitempty"`
	Args  []any `yaml:"args,omitempty" json:"args,omitempty"`

	// Expect is the outcome of the command: ok (default), caught or
	// command_error.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// OpenStep opens a nested scope and runs Steps inside it.
type OpenStep struct {
	// Policy is the drop policy: commit (default) or rollback.
	Policy string `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Resolve is how the scope ends once its steps have run: exit (default,
	// resolved by its policy when the scope ends), dispose, commit or
	// rollback.
	Resolve string `yaml:"resolve,omitempty" json:"resolve,omitempty"`

	// Expect is ok (default), or failure when an engine failure is expected
	// to escape the scope.
	Expect string `yaml:"expect,omitempty" json:"expect,omitempty"`

	Steps []Step `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// Assertion runs Query after the steps and compares the rows it returns.
type Assertion struct {
	Query string  `yaml:"query" json:"query"`
	Rows  [][]any `yaml:"rows" json:"rows"`
}

// Step and scope outcomes.
const (
	ExpectOK           = "ok"
	ExpectCaught       = "caught"
	ExpectCommandError = "command_error"
	ExpectFailure      = "failure"
)

// Scope resolutions.
const (
	ResolveExit     = "exit"
	ResolveDispose  = "dispose"
	ResolveCommit   = "commit"
	ResolveRollback = "rollback"
)

// Drop policies.
const (
	PolicyCommit   = "commit"
	PolicyRollback = "rollback"
)

// LoadScenario reads a scenario from a YAML (.yaml, .yml) or CUE (.cue)
// file. YAML files may not contain unknown fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := decodeStrict(data, &scenario); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("failed to evaluate CUE: %w", err)
		}
		// JSON is valid YAML, so exported CUE goes through the same
		// strict decoder.
		exported, err := v.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to export CUE: %w", err)
		}
		if err := decodeStrict(exported, &scenario); err != nil {
			return nil, fmt.Errorf("failed to decode CUE: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario file type %q", filepath.Ext(path))
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func decodeStrict(data []byte, out *Scenario) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(out)
}

// Validate checks that required fields are present and values are known.
func (s *Scenario) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Description, validation.Required),
		validation.Field(&s.Steps, validation.Required),
		validation.Field(&s.Assertions, validation.Required),
	)
}

// Validate checks that exactly one kind of step is set.
func (s Step) Validate() error {
	kinds := 0
	for _, set := range []bool{s.Open != nil, s.Read != "", s.Write != ""} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return errors.New("exactly one of open, read or write is required")
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.Open),
		validation.Field(&s.Expect,
			validation.In(ExpectOK, ExpectCaught, ExpectCommandError),
			validation.When(!s.Checked, validation.NotIn(ExpectCaught).Error("caught requires checked")),
		),
	)
}

// Validate checks the scope settings and its steps.
func (o OpenStep) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.Policy, validation.In(PolicyCommit, PolicyRollback)),
		validation.Field(&o.Resolve, validation.In(ResolveExit, ResolveDispose, ResolveCommit, ResolveRollback)),
		validation.Field(&o.Expect, validation.In(ExpectOK, ExpectFailure)),
		validation.Field(&o.Steps),
	)
}

// Validate checks that the assertion has a query.
func (a Assertion) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Query, validation.Required),
	)
}

func (s Step) command() (text string, readOnly bool) {
	if s.Read != "" {
		return s.Read, true
	}
	return s.Write, false
}

func (s Step) expect() string {
	if s.Expect == "" {
		return ExpectOK
	}
	return s.Expect
}

func (o *OpenStep) policy() string {
	if o.Policy == "" {
		return PolicyCommit
	}
	return o.Policy
}
