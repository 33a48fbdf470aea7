package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative session test: a schema, a seeded remote,
// optional failure injection and a list of steps driven against a fresh
// session. Each step may name an expected error; the run fails on any
// mismatch between expectation and outcome.
type Scenario struct {
	// Name uniquely identifies the scenario and its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description,omitempty"`

	// Schema holds inline CUE entity declarations.
	Schema string `yaml:"schema"`

	// Policy selects the commit error policy:
	// "interrupt_on_error" (default) or "continue_on_error".
	Policy string `yaml:"policy,omitempty"`

	// Labels maps entity type names to the field used to label remote
	// calls in the trace. Types without an entry are labeled by key.
	Labels map[string]string `yaml:"labels,omitempty"`

	// Seed pre-populates the fake remote.
	Seed []SeedRow `yaml:"seed,omitempty"`

	// Fail injects remote failures before any step runs.
	Fail []FailRule `yaml:"fail,omitempty"`

	// Steps is the main flow.
	Steps []Step `yaml:"steps"`
}

// SeedRow is one pre-existing remote row.
type SeedRow struct {
	Type   string         `yaml:"type"`
	Keys   []any          `yaml:"keys"`
	Fields map[string]any `yaml:"fields"`
}

// FailRule makes remote calls fail. Either Type (all calls of that
// operation on the type) or Label (calls with that trace label) selects
// the affected calls.
type FailRule struct {
	Op      string `yaml:"op"`
	Type    string `yaml:"type,omitempty"`
	Label   string `yaml:"label,omitempty"`
	Message string `yaml:"message"`
}

// Step is a tagged union; exactly one member must be set.
type Step struct {
	Get      *GetStep    `yaml:"get,omitempty"`
	Add      *AddStep    `yaml:"add,omitempty"`
	Set      *SetStep    `yaml:"set,omitempty"`
	Remove   *RemoveStep `yaml:"remove,omitempty"`
	Commit   *CommitStep `yaml:"commit,omitempty"`
	Rollback *struct{}   `yaml:"rollback,omitempty"`
	Reset    *struct{}   `yaml:"reset,omitempty"`
	Check    *CheckStep  `yaml:"check,omitempty"`
}

// GetStep fetches an entity and binds it to a scenario-local handle.
type GetStep struct {
	Type        string `yaml:"type"`
	Keys        []any  `yaml:"keys"`
	As          string `yaml:"as"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// AddStep constructs an entity, assigns its fields and stages it.
type AddStep struct {
	Type        string         `yaml:"type"`
	As          string         `yaml:"as"`
	Fields      map[string]any `yaml:"fields,omitempty"`
	ExpectError string         `yaml:"expect_error,omitempty"`
}

// SetStep assigns one field through the user path. Value carries a scalar;
// Ref names another handle for relationship fields.
type SetStep struct {
	Entity      string `yaml:"entity"`
	Field       string `yaml:"field"`
	Value       any    `yaml:"value,omitempty"`
	Ref         string `yaml:"ref,omitempty"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// RemoveStep stages an entity for removal.
type RemoveStep struct {
	Entity      string `yaml:"entity"`
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CommitStep commits the session.
type CommitStep struct {
	ExpectError string `yaml:"expect_error,omitempty"`
}

// CheckStep asserts on an entity's state or a field value.
type CheckStep struct {
	Entity string `yaml:"entity"`
	State  string `yaml:"state,omitempty"`
	Field  string `yaml:"field,omitempty"`
	Value  any    `yaml:"value,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Name == "" {
		return nil, fmt.Errorf("scenario name is required")
	}
	if scenario.Schema == "" {
		return nil, fmt.Errorf("scenario %s: schema is required", scenario.Name)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one step is required", scenario.Name)
	}
	return &scenario, nil
}
