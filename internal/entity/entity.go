package entity

import (
	"fmt"

	"github.com/google/uuid"
)

// Observer is notified around user-path writes. Sessions implement it to
// enforce frozen policies and to advance lifecycle state on mutation.
//
// PreUpdate runs before the value is stored; a non-nil error vetoes the
// write and leaves the entity untouched. Update runs after the value is
// stored and sees both the old and the new value.
type Observer interface {
	PreUpdate(e *Entity, f FieldDef, value any) error
	Update(e *Entity, f FieldDef, old, value any)
}

// Entity is one tracked instance of a Type: a synthetic identity, the
// current field values, the original value of each modified field, and a
// lifecycle state.
//
// Entities are not safe for concurrent mutation. Sessions serialize all
// writes; commit workers only touch entities through Load under the
// session's reconciliation.
type Entity struct {
	typ      *Type
	id       uuid.UUID
	state    State
	values   map[string]any
	original map[string]any
	observer Observer
}

// New constructs an unbound entity of this type with every field at its
// descriptor default and a fresh time-ordered synthetic identifier.
func (t *Type) New() *Entity {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e := &Entity{
		typ:      t,
		id:       id,
		state:    StateUnbound,
		values:   make(map[string]any, len(t.fields)),
		original: make(map[string]any),
	}
	for _, f := range t.fields {
		e.values[f.Name] = f.Desc.Default()
	}
	return e
}

// Type returns the entity's type.
func (e *Entity) Type() *Type { return e.typ }

// UUID returns the synthetic identifier. It never changes, even when
// primary-key values do.
func (e *Entity) UUID() uuid.UUID { return e.id }

// State returns the current lifecycle state.
func (e *Entity) State() State { return e.state }

// Apply advances the lifecycle state through the transition table and
// returns the resulting state.
func (e *Entity) Apply(tr Transition) State {
	e.state = NextState(tr, e.state)
	return e.state
}

// Bind attaches an observer. A nil observer detaches; Set then behaves
// like a plain validated write with change tracking.
func (e *Entity) Bind(obs Observer) { e.observer = obs }

// Observed reports whether an observer is currently attached.
func (e *Entity) Observed() bool { return e.observer != nil }

// Get returns the current value of a field.
func (e *Entity) Get(field string) (any, error) {
	if _, ok := e.typ.Field(field); !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, e.typ.Name(), field)
	}
	return e.values[field], nil
}

// MustGet is Get that panics on unknown fields. For callers that hold a
// FieldDef from the entity's own type.
func (e *Entity) MustGet(field string) any {
	v, err := e.Get(field)
	if err != nil {
		panic(err)
	}
	return v
}

// Set writes a field through the user path: descriptor validation, then
// the observer's PreUpdate veto, then the write plus change tracking, then
// the observer's Update hook. On error nothing is modified.
func (e *Entity) Set(field string, value any) error {
	f, ok := e.typ.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, e.typ.Name(), field)
	}
	v, err := f.Desc.Validate(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.typ.Name(), field, err)
	}
	if e.observer != nil {
		if err := e.observer.PreUpdate(e, f, v); err != nil {
			return err
		}
	}
	old := e.values[field]
	e.values[field] = v
	e.trackChange(field, old, v)
	if e.observer != nil {
		e.observer.Update(e, f, old, v)
	}
	return nil
}

// Load writes a field through the privileged path: validated, but with no
// observer involvement and no change tracking. The written value counts as
// persisted, so any pending original for the field is dropped.
func (e *Entity) Load(field string, value any) error {
	f, ok := e.typ.Field(field)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, e.typ.Name(), field)
	}
	v, err := f.Desc.Validate(value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", e.typ.Name(), field, err)
	}
	e.values[field] = v
	delete(e.original, field)
	return nil
}

// trackChange maintains the original-values map. The first divergence of a
// field records its pre-change value; writing the original value back
// removes the entry again.
func (e *Entity) trackChange(field string, old, value any) {
	if orig, tracked := e.original[field]; tracked {
		if valueEqual(orig, value) {
			delete(e.original, field)
		}
		return
	}
	if !valueEqual(old, value) {
		e.original[field] = old
	}
}

// IsModified reports whether any field diverges from its persistent value.
func (e *Entity) IsModified() bool { return len(e.original) > 0 }

// IsFieldModified reports whether a single field diverges from its
// persistent value.
func (e *Entity) IsFieldModified(field string) bool {
	_, ok := e.original[field]
	return ok
}

// ModifiedFields returns the persistent value of every modified field,
// keyed by field name. Adapters use it to build minimal update payloads.
func (e *Entity) ModifiedFields() map[string]any {
	out := make(map[string]any, len(e.original))
	for k, v := range e.original {
		out[k] = v
	}
	return out
}

// Persist declares the current values to be the persistent snapshot,
// forgetting all recorded originals.
func (e *Entity) Persist() {
	e.original = make(map[string]any)
}

// RestoreOriginal writes every recorded original value back, returning the
// entity to its persistent snapshot. Writes go through the privileged path
// so the observer never sees them.
func (e *Entity) RestoreOriginal() {
	for field, v := range e.original {
		e.values[field] = v
	}
	e.original = make(map[string]any)
}

// Children returns the entities this one references, deduplicated, in
// field declaration order. These are the entities that must be persisted
// before this one on create and update.
func (e *Entity) Children() []*Entity {
	var out []*Entity
	seen := make(map[*Entity]bool)
	for _, f := range e.typ.fields {
		if !f.Desc.DependsOn() {
			continue
		}
		switch v := e.values[f.Name].(type) {
		case *Entity:
			if v != nil && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		case []*Entity:
			for _, c := range v {
				if c != nil && !seen[c] {
					seen[c] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// PrimaryKeyValues returns the current primary-key values in declaration
// order. Empty when the type declares no primary key.
func (e *Entity) PrimaryKeyValues() []any {
	pks := e.typ.pks
	if len(pks) == 0 {
		return nil
	}
	out := make([]any, len(pks))
	for i, name := range pks {
		out[i] = e.values[name]
	}
	return out
}

// HasPrimaryKey reports whether the type declares a primary key and all of
// its fields currently hold non-nil values.
func (e *Entity) HasPrimaryKey() bool {
	if len(e.typ.pks) == 0 {
		return false
	}
	for _, name := range e.typ.pks {
		if e.values[name] == nil {
			return false
		}
	}
	return true
}

// valueEqual compares field values for change tracking. Entity slices are
// compared element-wise by pointer; everything else a descriptor produces
// is comparable.
func valueEqual(a, b any) bool {
	al, aok := a.([]*Entity)
	bl, bok := b.([]*Entity)
	if aok || bok {
		if !aok || !bok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if al[i] != bl[i] {
				return false
			}
		}
		return true
	}
	return a == b
}
