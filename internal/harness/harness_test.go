package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioFilesAgainstGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(scenario.Name, func(t *testing.T) {
			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestParseScenarioRejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
schema: "entity: T: {fields: {x: {type: \"int\"}}}"
stepz:
  - commit: {}
`))
	require.Error(t, err)
}

func TestParseScenarioRequiresNameSchemaSteps(t *testing.T) {
	_, err := ParseScenario([]byte(`schema: "x"`))
	require.ErrorContains(t, err, "name is required")

	_, err = ParseScenario([]byte("name: x\nsteps:\n  - commit: {}\n"))
	require.ErrorContains(t, err, "schema is required")

	_, err = ParseScenario([]byte("name: x\nschema: \"entity: T: {fields: {}}\"\n"))
	require.ErrorContains(t, err, "at least one step")
}

func TestRunFailsOnUnexpectedSuccess(t *testing.T) {
	scenario := &Scenario{
		Name:   "expected_error_missing",
		Schema: `entity: T: {fields: {name: {type: "string"}}}`,
		Steps: []Step{
			{Add: &AddStep{Type: "T", As: "t", ExpectError: "boom"}},
		},
	}
	_, err := Run(scenario)
	require.ErrorContains(t, err, "expected error")
}

func TestRunFailsOnUnknownHandle(t *testing.T) {
	scenario := &Scenario{
		Name:   "unknown_handle",
		Schema: `entity: T: {fields: {name: {type: "string"}}}`,
		Steps: []Step{
			{Set: &SetStep{Entity: "ghost", Field: "name", Value: "x"}},
		},
	}
	_, err := Run(scenario)
	require.ErrorContains(t, err, `unknown entity handle "ghost"`)
}

func TestRunChecksState(t *testing.T) {
	scenario := &Scenario{
		Name:   "state_mismatch",
		Schema: `entity: T: {fields: {name: {type: "string"}}}`,
		Steps: []Step{
			{Add: &AddStep{Type: "T", As: "t"}},
			{Check: &CheckStep{Entity: "t", State: "clean"}},
		},
	}
	_, err := Run(scenario)
	require.ErrorContains(t, err, "state new, want clean")
}

func TestRunTracesFrozenViolation(t *testing.T) {
	scenario := &Scenario{
		Name: "frozen_set_rejected",
		Schema: `entity: T: {fields: {
			id:   {type: "int", pk: true, nullable: true, frozen: "always"}
			name: {type: "string"}
		}}`,
		Seed: []SeedRow{{Type: "T", Keys: []any{1}, Fields: map[string]any{"id": 1, "name": "a"}}},
		Steps: []Step{
			{Get: &GetStep{Type: "T", Keys: []any{1}, As: "t"}},
			{Set: &SetStep{Entity: "t", Field: "id", Value: 2, ExpectError: "frozen"}},
			{Check: &CheckStep{Entity: "t", State: "clean", Field: "id", Value: 1}},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Contains(t, result.Trace[1], "error:")
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	scenario := &Scenario{
		Name:   "bad_policy",
		Schema: `entity: T: {fields: {name: {type: "string"}}}`,
		Policy: "explode_on_error",
		Steps:  []Step{{Commit: &CommitStep{}}},
	}
	_, err := Run(scenario)
	require.ErrorContains(t, err, "unknown policy")
}

func TestContinueOnErrorScenario(t *testing.T) {
	scenario := &Scenario{
		Name:   "continue_policy",
		Schema: `entity: T: {fields: {id: {type: "int", pk: true, nullable: true, frozen: "always"}, name: {type: "string"}}}`,
		Policy: "continue_on_error",
		Labels: map[string]string{"T": "name"},
		Fail:   []FailRule{{Op: "add", Label: "bad", Message: "rejected"}},
		Steps: []Step{
			{Add: &AddStep{Type: "T", As: "good", Fields: map[string]any{"name": "good"}}},
			{Add: &AddStep{Type: "T", As: "bad", Fields: map[string]any{"name": "bad"}}},
			{Commit: &CommitStep{ExpectError: "rejected"}},
			{Check: &CheckStep{Entity: "good", State: "clean"}},
			{Check: &CheckStep{Entity: "bad", State: "new"}},
		},
	}
	_, err := Run(scenario)
	require.NoError(t, err)
}
