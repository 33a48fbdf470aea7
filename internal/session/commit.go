package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/remit/internal/entity"
	"github.com/roach88/remit/internal/graph"
)

// phase is one sequential stage of a commit: an operation, the dependency
// graph over the entities needing it, and the direction predecessors are
// counted in.
type phase struct {
	op  Operation
	g   *graph.Graph
	dir graph.Direction
}

// Commit writes all pending local changes to the remote.
//
// The commit runs in three sequential phases (creates, updates, deletes),
// each ordered by the relationship graph and executed concurrently within
// the phase: a task starts the moment its ordering-predecessors have all
// succeeded. Preflight validation rejects the whole commit before any
// remote call when an adapter or capability is missing, when a staged
// removal is still referenced by a surviving entity, or when a phase
// contains a reference cycle.
//
// Returns one task per dispatched remote call, in start order. When any
// task fails, the error is a *CommitError carrying the failed subset;
// succeeded tasks stay reconciled and failed ones leave their entities
// pending, so a later Commit retries exactly the remainder. A second
// Commit overlapping a running one fails with ErrCommitInProgress.
func (s *Session) Commit(ctx context.Context) ([]*Task, error) {
	if !s.beginCommit() {
		return nil, ErrCommitInProgress
	}
	defer s.endCommit()

	phases, err := s.buildPlan()
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		return nil, nil
	}

	var tasks []*Task
	halted := false
	for _, ph := range phases {
		phaseTasks, phaseHalted := s.runPhase(ctx, ph, halted)
		tasks = append(tasks, phaseTasks...)
		halted = halted || phaseHalted
	}

	if err := RaiseForStatus(tasks); err != nil {
		slog.Info("commit finished with failures", "tasks", len(tasks), "policy", s.policy)
		return tasks, err
	}
	if err := ctx.Err(); err != nil {
		return tasks, err
	}
	slog.Info("commit finished", "tasks", len(tasks))
	return tasks, nil
}

// RaiseForStatus partitions tasks into succeeded and failed, returning a
// *CommitError when any failed and nil otherwise.
func RaiseForStatus(tasks []*Task) error {
	var failed []*Task
	for _, t := range tasks {
		if t.Err() != nil {
			failed = append(failed, t)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &CommitError{Tasks: tasks, Failed: failed}
}

func (s *Session) beginCommit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committing {
		return false
	}
	s.committing = true
	return true
}

func (s *Session) endCommit() {
	s.mu.Lock()
	s.committing = false
	s.mu.Unlock()
}

// buildPlan partitions pending entities, runs preflight validation and
// builds the three phase graphs. A nil, nil return means nothing to do.
func (s *Session) buildPlan() ([]phase, error) {
	var news, dirties, deleteds []*entity.Entity
	all := s.entities.All()
	for _, e := range all {
		switch e.State() {
		case entity.StateNew:
			news = append(news, e)
		case entity.StateDirty:
			dirties = append(dirties, e)
		case entity.StateDeleted:
			deleteds = append(deleteds, e)
		}
	}
	if len(news)+len(dirties)+len(deleteds) == 0 {
		return nil, nil
	}

	var errs []error
	errs = append(errs, s.checkCapabilities(news, OpCreate)...)
	errs = append(errs, s.checkCapabilities(dirties, OpUpdate)...)
	errs = append(errs, s.checkCapabilities(deleteds, OpDelete)...)
	errs = append(errs, checkDeleteReferenced(all)...)

	var phases []phase
	for _, p := range []struct {
		op       Operation
		entities []*entity.Entity
		dir      graph.Direction
	}{
		{OpCreate, news, graph.ChildrenFirst},
		{OpUpdate, dirties, graph.ChildrenFirst},
		{OpDelete, deleteds, graph.ParentsFirst},
	} {
		if len(p.entities) == 0 {
			continue
		}
		g, err := graph.Build(p.entities)
		if err != nil {
			errs = append(errs, &PreflightError{Code: ErrCodeCycle, Message: fmt.Sprintf("%s phase: %v", p.op, err)})
			continue
		}
		phases = append(phases, phase{op: p.op, g: g, dir: p.dir})
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("commit preflight: %w", errors.Join(errs...))
	}
	return phases, nil
}

// checkCapabilities verifies every entity's type has an adapter with the
// operation the phase needs.
func (s *Session) checkCapabilities(entities []*entity.Entity, op Operation) []error {
	var errs []error
	seen := make(map[string]bool)
	for _, e := range entities {
		name := e.Type().Name()
		if seen[name] {
			continue
		}
		seen[name] = true
		a, err := s.adapterFor(name)
		if err != nil {
			errs = append(errs, &PreflightError{Code: ErrCodeNoAdapter, TypeName: name, Message: "no adapter registered"})
			continue
		}
		var ok bool
		switch op {
		case OpCreate:
			_, ok = a.(Creator)
		case OpUpdate:
			_, ok = a.(Updater)
		case OpDelete:
			_, ok = a.(Deleter)
		}
		if !ok {
			errs = append(errs, &PreflightError{
				Code:     ErrCodeUnsupported,
				TypeName: name,
				Message:  fmt.Sprintf("adapter does not support %s", op),
			})
		}
	}
	return errs
}

// checkDeleteReferenced rejects removals still referenced by an entity
// that will survive the commit.
func checkDeleteReferenced(all []*entity.Entity) []error {
	var errs []error
	for _, e := range all {
		switch e.State() {
		case entity.StateDeleted, entity.StateDiscarded:
			continue
		}
		for _, c := range e.Children() {
			if c.State() == entity.StateDeleted {
				errs = append(errs, &PreflightError{
					Code:     ErrCodeDeleteReferenced,
					TypeName: c.Type().Name(),
					Message:  fmt.Sprintf("still referenced by surviving %s", e.Type().Name()),
				})
			}
		}
	}
	return errs
}

type completionMsg struct {
	node *graph.Node
	task *Task
}

// runPhase drives one phase to completion. Adapter calls run in their own
// goroutines; completions are received and reconciled here one at a time,
// so all cache and entity mutation stays on this goroutine. With halt set
// (a previous phase failed under InterruptOnError) nothing dispatches and
// the phase is a no-op.
func (s *Session) runPhase(ctx context.Context, ph phase, halt bool) ([]*Task, bool) {
	dispatched := make(map[*graph.Node]*Task, ph.g.Len())
	succeeded := make(map[*graph.Node]bool, ph.g.Len())
	completions := make(chan completionMsg)
	isDone := func(n *graph.Node) bool { return succeeded[n] }

	var tasks []*Task
	outstanding := 0
	halted := halt

	for {
		if !halted {
			for _, n := range ph.g.Ready(ph.dir, isDone) {
				if _, already := dispatched[n]; already {
					continue
				}
				t := newTask(n.Entity, ph.op)
				dispatched[n] = t
				tasks = append(tasks, t)
				outstanding++
				slog.Debug("task dispatched", "op", ph.op, "type", n.Entity.Type().Name())
				go s.execute(ctx, n, t, completions)
			}
		}
		if outstanding == 0 {
			break
		}
		msg := <-completions
		outstanding--
		if err := msg.task.Err(); err != nil {
			slog.Warn("task failed",
				"op", ph.op,
				"type", msg.node.Entity.Type().Name(),
				"error", err)
			if s.policy == InterruptOnError {
				halted = true
			}
		} else {
			succeeded[msg.node] = true
			s.reconcile(msg.task)
		}
		if ctx.Err() != nil {
			halted = true
		}
	}
	return tasks, halted
}

// execute performs one adapter call and reports completion. Runs off the
// scheduler goroutine; it must not touch session state.
func (s *Session) execute(ctx context.Context, n *graph.Node, t *Task, completions chan<- completionMsg) {
	t.complete(s.dispatch(ctx, t))
	completions <- completionMsg{node: n, task: t}
}

func (s *Session) dispatch(ctx context.Context, t *Task) error {
	a, err := s.adapterFor(t.Entity.Type().Name())
	if err != nil {
		return err
	}
	switch t.Op {
	case OpCreate:
		if c, ok := a.(Creator); ok {
			return c.Add(ctx, t.Entity)
		}
	case OpUpdate:
		if u, ok := a.(Updater); ok {
			return u.Update(ctx, t.Entity)
		}
	case OpDelete:
		if d, ok := a.(Deleter); ok {
			return d.Remove(ctx, t.Entity)
		}
	}
	return fmt.Errorf("%w: %s %s", ErrNotImplemented, t.Op, t.Entity.Type().Name())
}

// reconcile applies one successful task back to the session. Called only
// from the scheduler goroutine.
func (s *Session) reconcile(t *Task) {
	e := t.Entity
	switch t.Op {
	case OpCreate:
		e.Persist()
		e.Apply(entity.TransitionPersist)
		// a server-assigned primary key moves the entity from its
		// synthetic identity to the key tuple
		if err := s.entities.Reindex(e); err != nil {
			slog.Error("reindex after create failed",
				"type", e.Type().Name(),
				"error", err)
		}
	case OpUpdate:
		e.Persist()
		e.Apply(entity.TransitionPersist)
	case OpDelete:
		e.Apply(entity.TransitionPersist)
		s.discard(e)
	}
}
