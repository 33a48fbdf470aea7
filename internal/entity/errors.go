package entity

import "errors"

// Validation errors surfaced synchronously at the mutation call site.
// They never corrupt the persistent snapshot: a failed Set leaves the
// entity exactly as it was.
var (
	// ErrInvalidValue indicates a value that fails descriptor validation.
	ErrInvalidValue = errors.New("invalid field value")
	// ErrUnknownField indicates a field name the entity type does not declare.
	ErrUnknownField = errors.New("unknown field")
	// ErrFrozenField indicates a write rejected by the field's frozen policy.
	ErrFrozenField = errors.New("field is frozen")
)
