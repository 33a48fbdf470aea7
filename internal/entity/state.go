package entity

import "fmt"

// State is the lifecycle state of an entity within a session.
type State int

const (
	// StateUnbound means the entity is instantiated but not tracked.
	StateUnbound State = iota
	// StateClean means current values match the remote (tracked, no work).
	StateClean
	// StateNew means the entity is staged for remote creation.
	StateNew
	// StateDirty means current values diverge from the persistent snapshot.
	StateDirty
	// StateDeleted means the entity is staged for remote removal.
	StateDeleted
	// StateDiscarded means the entity left its cache for good. Terminal.
	StateDiscarded
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateClean:
		return "clean"
	case StateNew:
		return "new"
	case StateDirty:
		return "dirty"
	case StateDeleted:
		return "deleted"
	case StateDiscarded:
		return "discarded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Transition names the session-driven events that move entities between
// lifecycle states.
type Transition int

const (
	// TransitionGet registers an entity fetched from the remote.
	TransitionGet Transition = iota
	// TransitionAdd stages an unbound entity for creation.
	TransitionAdd
	// TransitionUpdate records a user mutation.
	TransitionUpdate
	// TransitionClean records that all mutations were reverted.
	TransitionClean
	// TransitionRemove stages an entity for removal.
	TransitionRemove
	// TransitionPersist acknowledges a successful remote write.
	TransitionPersist
	// TransitionRollback reverts uncommitted local work.
	TransitionRollback
)

type transitionKey struct {
	tr  Transition
	cur State
}

// transitions is the full state machine. Pairs not present leave the
// state unchanged.
var transitions = map[transitionKey]State{
	{TransitionGet, StateUnbound}: StateClean,
	{TransitionAdd, StateUnbound}: StateNew,

	{TransitionUpdate, StateClean}: StateDirty,
	{TransitionUpdate, StateDirty}: StateDirty,
	{TransitionClean, StateDirty}:  StateClean,

	{TransitionRemove, StateClean}: StateDeleted,
	{TransitionRemove, StateDirty}: StateDeleted,
	{TransitionRemove, StateNew}:   StateDiscarded,

	{TransitionPersist, StateNew}:     StateClean,
	{TransitionPersist, StateDirty}:   StateClean,
	{TransitionPersist, StateDeleted}: StateDiscarded,

	{TransitionRollback, StateDirty}:   StateClean,
	{TransitionRollback, StateNew}:     StateDiscarded,
	{TransitionRollback, StateDeleted}: StateDiscarded,
}

// NextState maps a transition applied to the current state. Unknown pairs
// keep the current state, except that nothing ever leaves StateDiscarded.
func NextState(tr Transition, cur State) State {
	if cur == StateDiscarded {
		return StateDiscarded
	}
	if next, ok := transitions[transitionKey{tr, cur}]; ok {
		return next
	}
	return cur
}
