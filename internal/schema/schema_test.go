package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remit/internal/entity"
)

const companySchema = `
entity: {
	Company: {
		fields: {
			id:   {type: "int", pk: true, frozen: "always", nullable: true}
			name: {type: "string"}
		}
	}
	Employee: {
		fields: {
			id:      {type: "int", pk: true, frozen: "always", nullable: true}
			name:    {type: "string", default: "new hire"}
			active:  {type: "bool", default: true}
			rating:  {type: "float"}
			company: {type: "ref", target: "Company", frozen: "create"}
			peers:   {type: "reflist", target: "Employee"}
		}
	}
}
`

func TestCompileString(t *testing.T) {
	types, err := CompileString(companySchema)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "Company", types[0].Name())
	assert.Equal(t, "Employee", types[1].Name())

	emp := types[1]
	assert.Equal(t, []string{"id"}, emp.PrimaryKeys())

	id, ok := emp.Field("id")
	require.True(t, ok)
	assert.Equal(t, entity.FrozenAlways, id.Desc.Frozen())
	assert.True(t, id.PK)

	company, ok := emp.Field("company")
	require.True(t, ok)
	assert.True(t, company.Desc.DependsOn())
	assert.Equal(t, entity.FrozenCreate, company.Desc.Frozen())
	rt, ok := company.Desc.(entity.RefTarget)
	require.True(t, ok)
	assert.Equal(t, "Company", rt.Target())

	peers, ok := emp.Field("peers")
	require.True(t, ok)
	assert.True(t, peers.Desc.DependsOn())
}

func TestCompileDefaults(t *testing.T) {
	types, err := CompileString(companySchema)
	require.NoError(t, err)
	e := types[1].New()

	assert.Equal(t, "new hire", e.MustGet("name"))
	assert.Equal(t, true, e.MustGet("active"))
	assert.Nil(t, e.MustGet("id"))
}

func TestForwardReferenceResolves(t *testing.T) {
	_, err := CompileString(`
entity: {
	Employee: {fields: {boss: {type: "ref", target: "Manager"}}}
	Manager:  {fields: {name: {type: "string"}}}
}
`)
	require.NoError(t, err, "refs may point at entities declared later")
}

func TestCompileErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"no entities", `x: 1`, "no entity declarations"},
		{"empty entity struct", `entity: {}`, "at least one entity type"},
		{"missing fields", `entity: T: {other: 1}`, "fields struct is required"},
		{"unknown type", `entity: T: {fields: {x: {type: "decimal"}}}`, `unknown field type "decimal"`},
		{"missing type", `entity: T: {fields: {x: {pk: true}}}`, "type is required"},
		{"ref without target", `entity: T: {fields: {x: {type: "ref"}}}`, "require a target"},
		{"ref to unknown entity", `entity: T: {fields: {x: {type: "ref", target: "Ghost"}}}`, "not a declared entity"},
		{"bad frozen", `entity: T: {fields: {x: {type: "int", frozen: "sometimes"}}}`, "invalid frozen policy"},
		{"pk on ref", `entity: {A: {fields: {n: {type: "int"}}}, T: {fields: {x: {type: "ref", target: "A", pk: true}}}}`, "primary-key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileString(tc.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCompileErrorPosition(t *testing.T) {
	_, err := CompileString(`entity: T: {fields: {x: {type: "nope"}}}`)
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "T.x", ce.Field)
}
