package entity

import (
	"fmt"
)

// FrozenType is a bit set describing when a field rejects user writes.
//
// The zero value (FrozenNever) means the field is always writable. The
// policy is enforced by the session observing the entity, never by the
// privileged Load path, so engines can always write back fetched or
// server-assigned values.
type FrozenType uint8

const (
	// FrozenNever allows writes at any point of the lifecycle.
	FrozenNever FrozenType = 0
	// FrozenCreate rejects writes while the entity is staged for creation.
	FrozenCreate FrozenType = 1 << 0
	// FrozenUpdate rejects writes once the entity exists remotely.
	FrozenUpdate FrozenType = 1 << 1
	// FrozenAlways rejects user writes in every lifecycle state.
	FrozenAlways FrozenType = FrozenCreate | FrozenUpdate
)

// String returns the canonical spelling used by schema files.
func (f FrozenType) String() string {
	switch f {
	case FrozenNever:
		return "never"
	case FrozenCreate:
		return "create"
	case FrozenUpdate:
		return "update"
	case FrozenAlways:
		return "always"
	}
	return fmt.Sprintf("FrozenType(%d)", uint8(f))
}

// ParseFrozen maps a schema spelling back to a FrozenType.
func ParseFrozen(s string) (FrozenType, error) {
	switch s {
	case "", "never":
		return FrozenNever, nil
	case "create":
		return FrozenCreate, nil
	case "update":
		return FrozenUpdate, nil
	case "always":
		return FrozenAlways, nil
	}
	return FrozenNever, fmt.Errorf("invalid frozen policy %q, must be \"never\", \"create\", \"update\" or \"always\"", s)
}

// Descriptor validates and describes the values of a single field.
//
// Descriptors are immutable once constructed and safe for concurrent use.
// Validate returns the normalized value to store (e.g. all integer kinds
// collapse to int64) or an error wrapping ErrInvalidValue.
type Descriptor interface {
	Validate(value any) (any, error)
	Frozen() FrozenType
	DependsOn() bool
	Default() any
}

// RefTarget is implemented by descriptors whose values reference other
// entities. Target returns the entity type name the field accepts.
type RefTarget interface {
	Target() string
}

// FieldOption configures a descriptor at construction time.
type FieldOption func(*fieldConfig)

type fieldConfig struct {
	frozen     FrozenType
	allowNone  bool
	def        any
	hasDefault bool
}

// Frozen sets the frozen policy of the field.
func Frozen(ft FrozenType) FieldOption {
	return func(c *fieldConfig) { c.frozen = ft }
}

// AllowNone permits nil as a field value. The default value becomes nil
// unless Default overrides it.
func AllowNone() FieldOption {
	return func(c *fieldConfig) { c.allowNone = true }
}

// Default sets the value assigned at construction time. The value is
// validated when the descriptor is first used.
func Default(v any) FieldOption {
	return func(c *fieldConfig) {
		c.def = v
		c.hasDefault = true
	}
}

func applyOptions(opts []FieldOption) fieldConfig {
	var cfg fieldConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// defaultValue resolves the construction-time value: the explicit default
// if set, nil when nil is allowed, otherwise the provided zero value.
func (c fieldConfig) defaultValue(zero any) any {
	if c.hasDefault {
		return c.def
	}
	if c.allowNone {
		return nil
	}
	return zero
}

type intDesc struct{ cfg fieldConfig }

// Int returns a descriptor for 64-bit integer fields. All Go integer kinds
// are accepted and normalized to int64; float64 values without a fractional
// part are accepted too, so JSON round trips keep working.
func Int(opts ...FieldOption) Descriptor {
	return intDesc{cfg: applyOptions(opts)}
}

func (d intDesc) Validate(value any) (any, error) {
	if value == nil {
		if d.cfg.allowNone {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: want int, got nil", ErrInvalidValue)
	}
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return nil, fmt.Errorf("%w: want int, got fractional %v", ErrInvalidValue, v)
	}
	return nil, fmt.Errorf("%w: want int, got %T", ErrInvalidValue, value)
}

func (d intDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d intDesc) DependsOn() bool    { return false }
func (d intDesc) Default() any       { return d.cfg.defaultValue(int64(0)) }

type stringDesc struct{ cfg fieldConfig }

// String returns a descriptor for string fields.
func String(opts ...FieldOption) Descriptor {
	return stringDesc{cfg: applyOptions(opts)}
}

func (d stringDesc) Validate(value any) (any, error) {
	if value == nil {
		if d.cfg.allowNone {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: want string, got nil", ErrInvalidValue)
	}
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: want string, got %T", ErrInvalidValue, value)
}

func (d stringDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d stringDesc) DependsOn() bool    { return false }
func (d stringDesc) Default() any       { return d.cfg.defaultValue("") }

type boolDesc struct{ cfg fieldConfig }

// Bool returns a descriptor for boolean fields.
func Bool(opts ...FieldOption) Descriptor {
	return boolDesc{cfg: applyOptions(opts)}
}

func (d boolDesc) Validate(value any) (any, error) {
	if value == nil {
		if d.cfg.allowNone {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: want bool, got nil", ErrInvalidValue)
	}
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: want bool, got %T", ErrInvalidValue, value)
}

func (d boolDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d boolDesc) DependsOn() bool    { return false }
func (d boolDesc) Default() any       { return d.cfg.defaultValue(false) }

type floatDesc struct{ cfg fieldConfig }

// Float returns a descriptor for float64 fields. Integer kinds are widened.
func Float(opts ...FieldOption) Descriptor {
	return floatDesc{cfg: applyOptions(opts)}
}

func (d floatDesc) Validate(value any) (any, error) {
	if value == nil {
		if d.cfg.allowNone {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: want float, got nil", ErrInvalidValue)
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return nil, fmt.Errorf("%w: want float, got %T", ErrInvalidValue, value)
}

func (d floatDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d floatDesc) DependsOn() bool    { return false }
func (d floatDesc) Default() any       { return d.cfg.defaultValue(float64(0)) }

type refDesc struct {
	cfg    fieldConfig
	target string
}

// Ref returns a descriptor for a single-entity reference field. The value
// must be a *Entity of the named target type, or nil (references are always
// nullable - a remote row may simply not link anywhere).
func Ref(target string, opts ...FieldOption) Descriptor {
	cfg := applyOptions(opts)
	cfg.allowNone = true
	return refDesc{cfg: cfg, target: target}
}

func (d refDesc) Validate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	e, ok := value.(*Entity)
	if !ok {
		return nil, fmt.Errorf("%w: want *Entity (%s), got %T", ErrInvalidValue, d.target, value)
	}
	if e == nil {
		return nil, nil
	}
	if e.Type().Name() != d.target {
		return nil, fmt.Errorf("%w: want entity of type %s, got %s", ErrInvalidValue, d.target, e.Type().Name())
	}
	return e, nil
}

func (d refDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d refDesc) DependsOn() bool    { return true }
func (d refDesc) Default() any       { return nil }
func (d refDesc) Target() string     { return d.target }

type refListDesc struct {
	cfg    fieldConfig
	target string
}

// RefList returns a descriptor for an ordered multi-reference field. The
// value must be a []*Entity whose elements are all of the named target
// type. The stored value is a defensive copy of the provided slice.
func RefList(target string, opts ...FieldOption) Descriptor {
	return refListDesc{cfg: applyOptions(opts), target: target}
}

func (d refListDesc) Validate(value any) (any, error) {
	if value == nil {
		return []*Entity{}, nil
	}
	list, ok := value.([]*Entity)
	if !ok {
		return nil, fmt.Errorf("%w: want []*Entity (%s), got %T", ErrInvalidValue, d.target, value)
	}
	out := make([]*Entity, len(list))
	for i, e := range list {
		if e == nil {
			return nil, fmt.Errorf("%w: nil element in %s list", ErrInvalidValue, d.target)
		}
		if e.Type().Name() != d.target {
			return nil, fmt.Errorf("%w: want entities of type %s, got %s", ErrInvalidValue, d.target, e.Type().Name())
		}
		out[i] = e
	}
	return out, nil
}

func (d refListDesc) Frozen() FrozenType { return d.cfg.frozen }
func (d refListDesc) DependsOn() bool    { return true }
func (d refListDesc) Default() any       { return []*Entity{} }
func (d refListDesc) Target() string     { return d.target }
