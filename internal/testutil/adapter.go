package testutil

import (
	"context"
	"fmt"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
	"github.com/roach88/remit/internal/session"
)

// Adapter implements the full session adapter contract against a Remote.
// Rows hold the entity's scalar fields; relationship fields never leave
// the session.
//
// On create, a type whose single integer primary key is unset gets the
// remote's next key written back, exercising the session's reindexing.
type Adapter struct {
	typ        *entity.Type
	remote     *Remote
	labelField string
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLabelField names the field whose value labels call records, instead
// of the primary-key string. Useful when keys are server-assigned and
// tests need stable labels.
func WithLabelField(name string) AdapterOption {
	return func(a *Adapter) { a.labelField = name }
}

// NewAdapter builds an adapter for one entity type over the given remote.
func NewAdapter(typ *entity.Type, remote *Remote, opts ...AdapterOption) *Adapter {
	a := &Adapter{typ: typ, remote: remote}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EntityType implements session.Adapter.
func (a *Adapter) EntityType() string { return a.typ.Name() }

// Get implements session.Reader.
func (a *Adapter) Get(ctx context.Context, keys []any) (*entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, err := a.remote.begin("get", a.typ.Name(), canonical.KeyString(a.typ.Name(), keys))
	if err != nil {
		return nil, err
	}
	defer a.remote.end(idx)

	row, err := a.remote.get(a.typ.Name(), keys)
	if err != nil {
		return nil, err
	}
	e := a.typ.New()
	for _, f := range a.typ.Fields() {
		if f.Desc.DependsOn() {
			continue
		}
		if v, ok := row[f.Name]; ok {
			if err := e.Load(f.Name, v); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// Add implements session.Creator.
func (a *Adapter) Add(ctx context.Context, e *entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := a.remote.begin("add", a.typ.Name(), a.label(e))
	if err != nil {
		return err
	}
	defer a.remote.end(idx)

	if !e.HasPrimaryKey() {
		if pks := a.typ.PrimaryKeys(); len(pks) == 1 {
			if err := e.Load(pks[0], a.remote.assignKey(a.typ.Name())); err != nil {
				return err
			}
		}
	}
	a.remote.put(a.typ.Name(), a.rowKeys(e), a.row(e))
	return nil
}

// Update implements session.Updater.
func (a *Adapter) Update(ctx context.Context, e *entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := a.remote.begin("update", a.typ.Name(), a.label(e))
	if err != nil {
		return err
	}
	defer a.remote.end(idx)
	a.remote.put(a.typ.Name(), a.rowKeys(e), a.row(e))
	return nil
}

// Remove implements session.Deleter.
func (a *Adapter) Remove(ctx context.Context, e *entity.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	idx, err := a.remote.begin("remove", a.typ.Name(), a.label(e))
	if err != nil {
		return err
	}
	defer a.remote.end(idx)
	return a.remote.delete(a.typ.Name(), a.rowKeys(e))
}

func (a *Adapter) label(e *entity.Entity) string {
	if a.labelField != "" {
		return fmt.Sprintf("%v", e.MustGet(a.labelField))
	}
	return canonical.KeyString(a.typ.Name(), a.rowKeys(e))
}

// rowKeys returns the values a row is stored under: the primary key when
// complete, the synthetic identifier otherwise.
func (a *Adapter) rowKeys(e *entity.Entity) []any {
	if e.HasPrimaryKey() {
		return e.PrimaryKeyValues()
	}
	return []any{e.UUID().String()}
}

func (a *Adapter) row(e *entity.Entity) map[string]any {
	out := make(map[string]any)
	for _, f := range a.typ.Fields() {
		if f.Desc.DependsOn() {
			continue
		}
		out[f.Name] = e.MustGet(f.Name)
	}
	return out
}

// readOnlyAdapter exposes only the read capability, for preflight tests.
type readOnlyAdapter struct {
	a *Adapter
}

// ReadOnly wraps an adapter so only Get remains visible to the session.
func ReadOnly(a *Adapter) session.Adapter { return readOnlyAdapter{a: a} }

func (r readOnlyAdapter) EntityType() string { return r.a.EntityType() }

func (r readOnlyAdapter) Get(ctx context.Context, keys []any) (*entity.Entity, error) {
	return r.a.Get(ctx, keys)
}
