package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: simple_add
schema: |
  entity: T: {
      fields: {
          id:   {type: "int", pk: true, nullable: true, frozen: "always"}
          name: {type: "string"}
      }
  }
labels:
  T: name
steps:
  - add: {type: T, as: a, fields: {name: alice}}
  - commit: {}
  - check: {entity: a, state: clean}
`

const failingScenario = `name: wrong_state
schema: |
  entity: T: {
      fields: {
          name: {type: "string"}
      }
  }
steps:
  - add: {type: T, as: a}
  - check: {entity: a, state: clean}
`

func TestTestCommandPassingScenario(t *testing.T) {
	path := writeTemp(t, "pass.yaml", passingScenario)

	out, err := execute(t, "test", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   simple_add")
	assert.Contains(t, out, "1 passed, 0 failed, 0 skipped")
}

func TestTestCommandFailingScenario(t *testing.T) {
	path := writeTemp(t, "fail.yaml", failingScenario)

	out, err := execute(t, "test", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL wrong_state")
	assert.Contains(t, out, "state new, want clean")
}

func TestTestCommandFilterSkips(t *testing.T) {
	pass := writeTemp(t, "pass.yaml", passingScenario)
	fail := writeTemp(t, "fail.yaml", failingScenario)

	out, err := execute(t, "test", "--filter", "simple_*", pass, fail)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 skipped")
}

func TestTestCommandMalformedScenario(t *testing.T) {
	path := writeTemp(t, "broken.yaml", "name: broken\nstepz: []\n")

	_, err := execute(t, "test", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandTraceOutput(t *testing.T) {
	path := writeTemp(t, "pass.yaml", passingScenario)

	out, err := execute(t, "test", "--trace", path)
	require.NoError(t, err)
	assert.Contains(t, out, "add T as a -> ok")
	assert.Contains(t, out, "commit -> ok")
}

func TestTestCommandJSONOutput(t *testing.T) {
	path := writeTemp(t, "pass.yaml", passingScenario)

	out, err := execute(t, "--format", "json", "test", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"name":"simple_add"`)
	assert.Contains(t, out, `"pass":true`)
}
