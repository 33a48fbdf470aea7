// Package schema compiles CUE entity declarations into entity types.
//
// A schema file declares entity types under the top-level "entity" struct:
//
//	entity: Employee: {
//	    fields: {
//	        key:  {type: "int", pk: true, frozen: "always", nullable: true}
//	        name: {type: "string", default: "new hire"}
//	        boss: {type: "ref", target: "Manager", frozen: "create"}
//	    }
//	}
//
// Compilation is two-pass: all entity names are collected first, then
// reference targets are resolved against that set, so declaration order
// never matters.
package schema

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/remit/internal/entity"
)

// CompileError represents a schema compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CompileString compiles CUE source text into entity types.
func CompileString(src string) ([]*entity.Type, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	return Compile(v)
}

// Compile parses the "entity" struct of a CUE value into entity types, in
// declaration order.
func Compile(v cue.Value) ([]*entity.Type, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	root := v.LookupPath(cue.ParsePath("entity"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "entity",
			Message: "no entity declarations found",
			Pos:     v.Pos(),
		}
	}

	// first pass: collect declared type names for reference resolution
	names := make(map[string]bool)
	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var order []string
	for iter.Next() {
		name := iter.Label()
		names[name] = true
		order = append(order, name)
	}
	if len(order) == 0 {
		return nil, &CompileError{
			Field:   "entity",
			Message: "at least one entity type is required",
			Pos:     root.Pos(),
		}
	}

	// second pass: compile each type with targets checked against names
	var types []*entity.Type
	iter, err = root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		t, err := compileType(iter.Label(), iter.Value(), names)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func compileType(name string, v cue.Value, names map[string]bool) (*entity.Type, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   name + ".fields",
			Message: "fields struct is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []entity.FieldDef
	for iter.Next() {
		def, err := compileField(name, iter.Label(), iter.Value(), names)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	t, err := entity.NewType(name, defs...)
	if err != nil {
		return nil, &CompileError{Field: name, Message: err.Error(), Pos: v.Pos()}
	}
	return t, nil
}

func compileField(typeName, fieldName string, v cue.Value, names map[string]bool) (entity.FieldDef, error) {
	path := typeName + "." + fieldName
	fail := func(msg string) (entity.FieldDef, error) {
		return entity.FieldDef{}, &CompileError{Field: path, Message: msg, Pos: v.Pos()}
	}

	kind, err := stringAt(v, "type")
	if err != nil {
		return fail("type is required and must be a string")
	}

	var opts []entity.FieldOption
	if frozenStr, err := stringAt(v, "frozen"); err == nil {
		ft, err := entity.ParseFrozen(frozenStr)
		if err != nil {
			return fail(err.Error())
		}
		opts = append(opts, entity.Frozen(ft))
	}
	if nullable, err := boolAt(v, "nullable"); err == nil && nullable {
		opts = append(opts, entity.AllowNone())
	}
	if defVal := v.LookupPath(cue.ParsePath("default")); defVal.Exists() {
		d, err := scalarValue(defVal)
		if err != nil {
			return fail(fmt.Sprintf("invalid default: %v", err))
		}
		opts = append(opts, entity.Default(d))
	}

	pk, _ := boolAt(v, "pk")

	var desc entity.Descriptor
	switch kind {
	case "int":
		desc = entity.Int(opts...)
	case "string":
		desc = entity.String(opts...)
	case "bool":
		desc = entity.Bool(opts...)
	case "float":
		desc = entity.Float(opts...)
	case "ref", "reflist":
		target, err := stringAt(v, "target")
		if err != nil {
			return fail("ref fields require a target entity name")
		}
		if !names[target] {
			return fail(fmt.Sprintf("target %q is not a declared entity", target))
		}
		if kind == "ref" {
			desc = entity.Ref(target, opts...)
		} else {
			desc = entity.RefList(target, opts...)
		}
	default:
		return fail(fmt.Sprintf("unknown field type %q", kind))
	}

	return entity.FieldDef{Name: fieldName, Desc: desc, PK: pk}, nil
}

func stringAt(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", fmt.Errorf("%s missing", path)
	}
	return f.String()
}

func boolAt(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, fmt.Errorf("%s missing", path)
	}
	return f.Bool()
}

// scalarValue extracts a CUE scalar as the Go value descriptors accept.
func scalarValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		return v.Int64()
	case cue.BoolKind:
		return v.Bool()
	case cue.FloatKind, cue.NumberKind:
		return v.Float64()
	case cue.NullKind:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported scalar kind %v", v.Kind())
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
