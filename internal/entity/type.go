package entity

import "fmt"

// FieldDef declares one field of an entity type: its name, its value
// descriptor and whether it participates in the primary key.
type FieldDef struct {
	Name string
	Desc Descriptor
	PK   bool
}

// Type describes the shape of an entity: an ordered list of field
// definitions built explicitly at definition time (no reflection).
// Types are immutable after NewType and safe for concurrent use.
type Type struct {
	name   string
	fields []FieldDef
	index  map[string]int
	pks    []string
}

// NewType builds an entity type from an explicit field list.
//
// Field names must be unique and non-empty. Primary-key fields must not be
// relationship fields: identity is made of plain values, never of other
// entities.
func NewType(name string, fields ...FieldDef) (*Type, error) {
	if name == "" {
		return nil, fmt.Errorf("entity type name must not be empty")
	}
	t := &Type{
		name:   name,
		fields: make([]FieldDef, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("type %s: field name must not be empty", name)
		}
		if f.Desc == nil {
			return nil, fmt.Errorf("type %s: field %q has no descriptor", name, f.Name)
		}
		if _, dup := t.index[f.Name]; dup {
			return nil, fmt.Errorf("type %s: duplicate field %q", name, f.Name)
		}
		if f.PK && f.Desc.DependsOn() {
			return nil, fmt.Errorf("type %s: primary-key field %q must not be a relationship field", name, f.Name)
		}
		t.index[f.Name] = len(t.fields)
		t.fields = append(t.fields, f)
		if f.PK {
			t.pks = append(t.pks, f.Name)
		}
	}
	return t, nil
}

// MustType is NewType that panics on error. Intended for type definitions
// in package variables and tests.
func MustType(name string, fields ...FieldDef) *Type {
	t, err := NewType(name, fields...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the type name.
func (t *Type) Name() string { return t.name }

// Fields returns the field definitions in declaration order.
func (t *Type) Fields() []FieldDef {
	out := make([]FieldDef, len(t.fields))
	copy(out, t.fields)
	return out
}

// Field looks up a field definition by name.
func (t *Type) Field(name string) (FieldDef, bool) {
	i, ok := t.index[name]
	if !ok {
		return FieldDef{}, false
	}
	return t.fields[i], true
}

// PrimaryKeys returns the primary-key field names in declaration order.
// The result may be empty: such types are identified purely by their
// synthetic identifier.
func (t *Type) PrimaryKeys() []string {
	out := make([]string, len(t.pks))
	copy(out, t.pks)
	return out
}
