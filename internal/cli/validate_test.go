package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSchema = `entity: Employee: {
	fields: {
		id:   {type: "int", pk: true, nullable: true, frozen: "always"}
		name: {type: "string"}
	}
}`

const invalidSchema = `entity: Employee: {
	fields: {
		id: {type: "blob"}
	}
}`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateAcceptsGoodSchema(t *testing.T) {
	path := writeTemp(t, "good.cue", validSchema)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+path)
	assert.Contains(t, out, "(1 types)")
}

func TestValidateReportsFieldErrors(t *testing.T) {
	path := writeTemp(t, "bad.cue", invalidSchema)

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL "+path)
	assert.Contains(t, out, "Employee.id")
}

func TestValidateMixedFiles(t *testing.T) {
	good := writeTemp(t, "good.cue", validSchema)
	bad := writeTemp(t, "bad.cue", invalidSchema)

	out, err := execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out, "ok   "+good)
	assert.Contains(t, out, "FAIL "+bad)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestValidateJSONOutput(t *testing.T) {
	path := writeTemp(t, "good.cue", validSchema)

	out, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"valid":true`)
	assert.Contains(t, out, `"types":["Employee"]`)
}
