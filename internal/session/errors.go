package session

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session operations.
var (
	// ErrNotFound is wrapped by adapters when the remote has no resource
	// for the requested identity.
	ErrNotFound = errors.New("entity not found")
	// ErrNoAdapter indicates an entity type with no registered adapter.
	ErrNoAdapter = errors.New("no adapter registered")
	// ErrNotImplemented is returned by adapters for operations they do not
	// support. Preflight rejects such operations before any remote call.
	ErrNotImplemented = errors.New("operation not implemented")
	// ErrCommitInProgress rejects a Commit that overlaps a running one.
	ErrCommitInProgress = errors.New("commit already in progress")
	// ErrNotTracked indicates an operation on an entity the session does
	// not track.
	ErrNotTracked = errors.New("entity not tracked by session")
	// ErrAlreadyTracked indicates adding an entity whose identity is
	// already registered.
	ErrAlreadyTracked = errors.New("entity identity already tracked")
	// ErrDiscarded indicates an operation on a discarded entity.
	ErrDiscarded = errors.New("entity is discarded")
)

// PreflightErrorCode categorizes preflight failures.
type PreflightErrorCode string

const (
	// ErrCodeNoAdapter means the entity's type has no adapter.
	ErrCodeNoAdapter PreflightErrorCode = "NO_ADAPTER"
	// ErrCodeUnsupported means the adapter lacks the needed operation.
	ErrCodeUnsupported PreflightErrorCode = "UNSUPPORTED_OPERATION"
	// ErrCodeDeleteReferenced means a staged removal is still referenced
	// by a surviving entity.
	ErrCodeDeleteReferenced PreflightErrorCode = "DELETE_REFERENCED"
	// ErrCodeCycle means a phase's dependency graph contains a cycle.
	ErrCodeCycle PreflightErrorCode = "DEPENDENCY_CYCLE"
)

// PreflightError describes one reason a commit was rejected before any
// remote call. A rejected commit performs no remote work at all.
type PreflightError struct {
	Code     PreflightErrorCode
	TypeName string
	Message  string
}

func (e *PreflightError) Error() string {
	if e.TypeName != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.TypeName, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsPreflightError extracts a *PreflightError via errors.As.
func AsPreflightError(err error) (*PreflightError, bool) {
	var pe *PreflightError
	ok := errors.As(err, &pe)
	return pe, ok
}

// CommitError aggregates the outcome of a commit in which at least one
// task failed. Succeeded tasks stay reconciled: their entities are clean
// (or gone); failed tasks leave their entities pending for a retry.
type CommitError struct {
	Tasks  []*Task
	Failed []*Task
}

func (e *CommitError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit failed: %d of %d tasks errored", len(e.Failed), len(e.Tasks))
	for _, t := range e.Failed {
		fmt.Fprintf(&b, "; %s %s: %v", t.Op, t.Entity.Type().Name(), t.Err())
	}
	return b.String()
}

// AsCommitError extracts a *CommitError via errors.As.
func AsCommitError(err error) (*CommitError, bool) {
	var ce *CommitError
	ok := errors.As(err, &ce)
	return ce, ok
}
