package sqlitedao

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
	"github.com/roach88/remit/internal/session"
)

// DAO implements the full adapter contract for one entity type over a
// shared Store.
//
// Scalar fields round-trip through the JSON document. Reference fields are
// stored as {"$ref": [key...]} (or a list of those) and resolved through
// the owning session on read, so referenced entities come back identity
// mapped. A type whose single integer primary key is unset on create gets
// a store-assigned key written back through the privileged path.
type DAO struct {
	typ   *entity.Type
	store *Store
	sess  *session.Session
}

// NewDAO builds the adapter for one entity type.
func NewDAO(typ *entity.Type, store *Store) *DAO {
	return &DAO{typ: typ, store: store}
}

// EntityType implements session.Adapter.
func (d *DAO) EntityType() string { return d.typ.Name() }

// BindSession implements session.Binder; the session is needed to resolve
// reference fields on read.
func (d *DAO) BindSession(s *session.Session) { d.sess = s }

// Get implements session.Reader.
func (d *DAO) Get(ctx context.Context, keys []any) (*entity.Entity, error) {
	doc, err := d.store.readDoc(ctx, d.typ.Name(), canonical.KeyString(d.typ.Name(), keys))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s%v: %w", d.typ.Name(), keys, session.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s%v: %w", d.typ.Name(), keys, err)
	}
	return d.materialize(ctx, doc)
}

// Add implements session.Creator.
func (d *DAO) Add(ctx context.Context, e *entity.Entity) error {
	if !e.HasPrimaryKey() {
		if pks := d.typ.PrimaryKeys(); len(pks) == 1 {
			key, err := d.store.nextKey(ctx, d.typ.Name())
			if err != nil {
				return err
			}
			if err := e.Load(pks[0], key); err != nil {
				return err
			}
		}
	}
	return d.write(ctx, e)
}

// Update implements session.Updater.
func (d *DAO) Update(ctx context.Context, e *entity.Entity) error {
	return d.write(ctx, e)
}

// Remove implements session.Deleter.
func (d *DAO) Remove(ctx context.Context, e *entity.Entity) error {
	deleted, err := d.store.deleteDoc(ctx, d.typ.Name(), d.rowKey(e))
	if err != nil {
		return fmt.Errorf("delete %s: %w", d.typ.Name(), err)
	}
	if !deleted {
		return fmt.Errorf("delete %s: %w", d.typ.Name(), session.ErrNotFound)
	}
	return nil
}

func (d *DAO) write(ctx context.Context, e *entity.Entity) error {
	doc, err := d.serialize(e)
	if err != nil {
		return err
	}
	if err := d.store.writeDoc(ctx, d.typ.Name(), d.rowKey(e), doc); err != nil {
		return fmt.Errorf("write %s: %w", d.typ.Name(), err)
	}
	return nil
}

// rowKey keys rows by primary key when complete, synthetic id otherwise.
func (d *DAO) rowKey(e *entity.Entity) string {
	if e.HasPrimaryKey() {
		return canonical.KeyString(d.typ.Name(), e.PrimaryKeyValues())
	}
	return canonical.KeyString(d.typ.Name(), []any{e.UUID().String()})
}

// serialize renders the entity's current values as a JSON document.
// Referenced entities are stored by target type and primary key; the
// commit scheduler's ordering guarantees they have keys by the time a
// referencing entity is written.
func (d *DAO) serialize(e *entity.Entity) (string, error) {
	doc := make(map[string]any)
	for _, f := range d.typ.Fields() {
		v := e.MustGet(f.Name)
		if !f.Desc.DependsOn() {
			doc[f.Name] = v
			continue
		}
		switch rv := v.(type) {
		case nil:
			doc[f.Name] = nil
		case *entity.Entity:
			ref, err := refDoc(rv)
			if err != nil {
				return "", fmt.Errorf("%s.%s: %w", d.typ.Name(), f.Name, err)
			}
			doc[f.Name] = ref
		case []*entity.Entity:
			refs := make([]any, len(rv))
			for i, c := range rv {
				ref, err := refDoc(c)
				if err != nil {
					return "", fmt.Errorf("%s.%s[%d]: %w", d.typ.Name(), f.Name, i, err)
				}
				refs[i] = ref
			}
			doc[f.Name] = refs
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", d.typ.Name(), err)
	}
	return string(out), nil
}

func refDoc(e *entity.Entity) (map[string]any, error) {
	if !e.HasPrimaryKey() {
		return nil, fmt.Errorf("referenced %s has no primary key yet", e.Type().Name())
	}
	return map[string]any{"$ref": e.PrimaryKeyValues()}, nil
}

// materialize builds a fresh entity from a JSON document, resolving
// reference fields through the session.
func (d *DAO) materialize(ctx context.Context, doc string) (*entity.Entity, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", d.typ.Name(), err)
	}
	e := d.typ.New()
	for _, f := range d.typ.Fields() {
		raw, ok := fields[f.Name]
		if !ok {
			continue
		}
		v, err := d.fieldValue(ctx, f, raw)
		if err != nil {
			return nil, err
		}
		if err := e.Load(f.Name, v); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (d *DAO) fieldValue(ctx context.Context, f entity.FieldDef, raw any) (any, error) {
	if !f.Desc.DependsOn() {
		return raw, nil
	}
	target := f.Desc.(entity.RefTarget).Target()
	switch rv := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return d.resolveRef(ctx, target, rv)
	case []any:
		out := make([]*entity.Entity, 0, len(rv))
		for _, item := range rv {
			ref, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: malformed reference list", d.typ.Name(), f.Name)
			}
			c, err := d.resolveRef(ctx, target, ref)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s.%s: malformed reference", d.typ.Name(), f.Name)
}

func (d *DAO) resolveRef(ctx context.Context, target string, ref map[string]any) (*entity.Entity, error) {
	keys, ok := ref["$ref"].([]any)
	if !ok {
		return nil, fmt.Errorf("reference to %s lacks $ref keys", target)
	}
	if d.sess == nil {
		return nil, fmt.Errorf("resolving %s reference requires a bound session", target)
	}
	return d.sess.Get(ctx, target, keys...)
}
