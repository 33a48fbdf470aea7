// Package session implements the client-side coordination layer: an
// identity-mapped view of remote resources with change tracking and a
// dependency-ordered concurrent commit.
//
// A Session tracks entities fetched from or staged against a remote. All
// local work is in-memory until Commit, which partitions pending entities
// into create, update and delete phases, orders each phase by the
// relationship graph, dispatches adapter calls concurrently and reconciles
// completions one at a time in the scheduler goroutine. No remote call is
// made before preflight validation passes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/remit/internal/cache"
	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
)

// Policy controls how a commit reacts to a failing task.
type Policy int

const (
	// InterruptOnError stops dispatching new tasks after the first
	// failure. Running tasks drain; later phases do not start.
	InterruptOnError Policy = iota
	// ContinueOnError keeps dispatching tasks that do not depend on a
	// failed one, across all phases.
	ContinueOnError
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case InterruptOnError:
		return "interrupt_on_error"
	case ContinueOnError:
		return "continue_on_error"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithErrorPolicy sets the commit error policy. Default: InterruptOnError.
func WithErrorPolicy(p Policy) Option {
	return func(s *Session) { s.policy = p }
}

// Session is the coordination façade. Safe for concurrent use; all tracked
// state is guarded by one mutex, while remote calls happen outside it.
type Session struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	entities *cache.EntityCache
	results  *cache.ResultCache
	policy   Policy

	// inflight deduplicates concurrent Gets of the same identity so the
	// remote is hit once.
	inflight map[string]*inflightGet

	committing bool

	observer *sessionObserver
}

type inflightGet struct {
	done   chan struct{}
	entity *entity.Entity
	err    error
}

// New constructs an empty session.
func New(opts ...Option) *Session {
	s := &Session{
		adapters: make(map[string]Adapter),
		entities: cache.NewEntityCache(),
		results:  cache.NewResultCache(),
		inflight: make(map[string]*inflightGet),
		policy:   InterruptOnError,
	}
	s.observer = &sessionObserver{s: s}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterAdapter registers the adapter for its entity type, replacing any
// previous one. Adapters implementing Binder get the session handed in.
func (s *Session) RegisterAdapter(a Adapter) {
	s.mu.Lock()
	s.adapters[a.EntityType()] = a
	s.mu.Unlock()
	if b, ok := a.(Binder); ok {
		b.BindSession(s)
	}
}

func (s *Session) adapterFor(typeName string) (Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adapters[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoAdapter, typeName)
	}
	return a, nil
}

// Get returns the tracked entity for the given type and primary key,
// fetching it from the remote on first access. Concurrent Gets of the same
// identity share one remote call. A cached instance always wins over a
// freshly fetched one.
func (s *Session) Get(ctx context.Context, typeName string, keys ...any) (*entity.Entity, error) {
	key := canonical.KeyString(typeName, keys)

	s.mu.Lock()
	if e, ok := s.entities.Lookup(typeName, keys); ok {
		s.mu.Unlock()
		return e, nil
	}
	if call, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.entity, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflightGet{done: make(chan struct{})}
	s.inflight[key] = call
	s.mu.Unlock()

	call.entity, call.err = s.fetch(ctx, typeName, keys)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
	close(call.done)
	return call.entity, call.err
}

// fetch performs the remote read and registers the result.
func (s *Session) fetch(ctx context.Context, typeName string, keys []any) (*entity.Entity, error) {
	a, err := s.adapterFor(typeName)
	if err != nil {
		return nil, err
	}
	r, ok := a.(Reader)
	if !ok {
		return nil, fmt.Errorf("%w: get %s", ErrNotImplemented, typeName)
	}
	e, err := r.Get(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get %s%v: %w", typeName, keys, err)
	}
	if e == nil {
		return nil, fmt.Errorf("get %s%v: %w", typeName, keys, ErrNotFound)
	}
	return s.track(e), nil
}

// track registers a fetched entity, handing back the cached instance when
// the identity is already tracked.
func (s *Session) track(e *entity.Entity) *entity.Entity {
	stored, inserted := s.entities.Register(e)
	if !inserted {
		return stored
	}
	e.Persist()
	e.Apply(entity.TransitionGet)
	e.Bind(s.observer)
	slog.Debug("entity tracked", "type", e.Type().Name(), "state", e.State())
	return e
}

// Add stages an unbound entity for remote creation. The entity's identity
// (when it already has a primary key) must not collide with a tracked one.
func (s *Session) Add(e *entity.Entity) error {
	switch e.State() {
	case entity.StateUnbound:
	case entity.StateDiscarded:
		return fmt.Errorf("add %s: %w", e.Type().Name(), ErrDiscarded)
	default:
		return fmt.Errorf("add %s: %w", e.Type().Name(), ErrAlreadyTracked)
	}
	stored, inserted := s.entities.Register(e)
	if !inserted {
		return fmt.Errorf("add %s: %w (held by %s)", e.Type().Name(), ErrAlreadyTracked, stored.UUID())
	}
	e.Apply(entity.TransitionAdd)
	e.Bind(s.observer)
	slog.Debug("entity staged for creation", "type", e.Type().Name())
	return nil
}

// Create constructs a new entity of the given type and stages it in one
// step.
func (s *Session) Create(typ *entity.Type) (*entity.Entity, error) {
	e := typ.New()
	if err := s.Add(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Remove stages a tracked entity for remote removal. Removing a
// staged-for-creation entity simply discards it.
func (s *Session) Remove(e *entity.Entity) error {
	if !s.entities.Has(e) {
		return fmt.Errorf("remove %s: %w", e.Type().Name(), ErrNotTracked)
	}
	if e.Apply(entity.TransitionRemove) == entity.StateDiscarded {
		s.discard(e)
	}
	slog.Debug("entity staged for removal", "type", e.Type().Name(), "state", e.State())
	return nil
}

// Rollback reverts all uncommitted local work: modified entities restore
// their persistent values, staged creations and removals are undone.
// Tracked clean entities survive.
func (s *Session) Rollback() {
	for _, e := range s.entities.All() {
		switch e.State() {
		case entity.StateDirty:
			e.RestoreOriginal()
			e.Apply(entity.TransitionRollback)
		case entity.StateNew:
			e.Apply(entity.TransitionRollback)
			s.discard(e)
		case entity.StateDeleted:
			e.Apply(entity.TransitionRollback)
			s.discard(e)
		}
	}
	slog.Debug("session rolled back")
}

// Reset drops everything the session tracks, including clean entities and
// cached query results. Dropped entities are discarded for good.
func (s *Session) Reset() {
	for _, e := range s.entities.Clear() {
		e.Apply(entity.TransitionRemove)
		e.Apply(entity.TransitionRollback)
		e.Bind(nil)
	}
	s.results.Clear()
	slog.Debug("session reset")
}

// discard evicts an entity and severs its session binding.
func (s *Session) discard(e *entity.Entity) {
	s.entities.Evict(e)
	e.Bind(nil)
}

// With runs fn against the session, commits on success and rolls back on
// failure. A failing commit also rolls back, so the session never keeps
// half-applied local state after With returns an error.
func (s *Session) With(ctx context.Context, fn func(*Session) error) ([]*Task, error) {
	if err := fn(s); err != nil {
		s.Rollback()
		return nil, err
	}
	tasks, err := s.Commit(ctx)
	if err != nil {
		s.Rollback()
		return tasks, err
	}
	return tasks, nil
}

// Tracked returns every tracked entity in unspecified order.
func (s *Session) Tracked() []*entity.Entity {
	return s.entities.All()
}

// Find returns the tracked entity for an identity without touching the
// remote.
func (s *Session) Find(typeName string, keys ...any) (*entity.Entity, bool) {
	return s.entities.Lookup(typeName, keys)
}

// sessionObserver enforces frozen policies and advances lifecycle state on
// user writes. Attached to every tracked entity, detached on discard.
type sessionObserver struct {
	s *Session
}

func (o *sessionObserver) PreUpdate(e *entity.Entity, f entity.FieldDef, value any) error {
	switch e.State() {
	case entity.StateDeleted:
		return fmt.Errorf("set %s.%s: entity is staged for removal", e.Type().Name(), f.Name)
	case entity.StateDiscarded:
		return fmt.Errorf("set %s.%s: %w", e.Type().Name(), f.Name, ErrDiscarded)
	case entity.StateNew:
		if f.Desc.Frozen()&entity.FrozenCreate != 0 {
			return fmt.Errorf("set %s.%s: %w during creation", e.Type().Name(), f.Name, entity.ErrFrozenField)
		}
	case entity.StateClean, entity.StateDirty:
		if f.Desc.Frozen()&entity.FrozenUpdate != 0 {
			return fmt.Errorf("set %s.%s: %w after persistence", e.Type().Name(), f.Name, entity.ErrFrozenField)
		}
	}
	return nil
}

func (o *sessionObserver) Update(e *entity.Entity, f entity.FieldDef, old, value any) {
	if e.IsModified() {
		e.Apply(entity.TransitionUpdate)
	} else {
		// the write reverted the last divergence
		e.Apply(entity.TransitionClean)
	}
}
