package session

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/remit/internal/entity"
)

// Operation is the remote write a task performs.
type Operation int

const (
	// OpCreate writes a staged-for-creation entity to the remote.
	OpCreate Operation = iota
	// OpUpdate writes modified fields of an existing entity.
	OpUpdate
	// OpDelete removes an entity from the remote.
	OpDelete
)

// String returns the lowercase operation name.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

// Task is one remote write dispatched during a commit. Tasks are created
// by the scheduler and completed exactly once; all fields settle before
// the done channel closes, so readers that observed Done may read them
// without locks.
type Task struct {
	Entity *entity.Entity
	Op     Operation

	started  time.Time
	finished time.Time
	err      error
	done     chan struct{}
}

func newTask(e *entity.Entity, op Operation) *Task {
	return &Task{
		Entity:  e,
		Op:      op,
		started: time.Now(),
		done:    make(chan struct{}),
	}
}

func (t *Task) complete(err error) {
	t.err = err
	t.finished = time.Now()
	close(t.done)
}

// Done returns a channel closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or the context is cancelled, then
// returns the task error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the task error. Only valid after Done.
func (t *Task) Err() error { return t.err }

// StartedAt returns when the task was dispatched.
func (t *Task) StartedAt() time.Time { return t.started }

// Duration returns how long the remote call took. Only valid after Done.
func (t *Task) Duration() time.Duration { return t.finished.Sub(t.started) }
