// Package harness runs declarative session scenarios: YAML files that
// seed a scripted remote, drive a session through gets, mutations and
// commits, and produce a deterministic text trace for golden comparison.
//
// Concurrent dispatch within a commit makes raw call order
// nondeterministic, so the trace sorts each commit's calls by operation,
// type and label before recording them.
package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
	"github.com/roach88/remit/internal/schema"
	"github.com/roach88/remit/internal/session"
	"github.com/roach88/remit/internal/testutil"
)

// Result carries the outcome of a scenario run.
type Result struct {
	Trace []string
}

type runner struct {
	scenario *Scenario
	sess     *session.Session
	remote   *testutil.Remote
	types    map[string]*entity.Type
	handles  map[string]*entity.Entity
	trace    []string
	// callMark remembers how many remote calls existed before the
	// current commit, so only its calls are traced.
	callMark int
}

// Run executes a scenario against a fresh session and scripted remote.
// The returned error reports the first step whose outcome contradicts its
// expectation.
func Run(scenario *Scenario) (*Result, error) {
	types, err := schema.CompileString(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	var opts []session.Option
	switch scenario.Policy {
	case "", "interrupt_on_error":
	case "continue_on_error":
		opts = append(opts, session.WithErrorPolicy(session.ContinueOnError))
	default:
		return nil, fmt.Errorf("scenario %s: unknown policy %q", scenario.Name, scenario.Policy)
	}

	r := &runner{
		scenario: scenario,
		sess:     session.New(opts...),
		remote:   testutil.NewRemote(),
		types:    make(map[string]*entity.Type, len(types)),
		handles:  make(map[string]*entity.Entity),
	}
	for _, typ := range types {
		r.types[typ.Name()] = typ
		var aopts []testutil.AdapterOption
		if label, ok := scenario.Labels[typ.Name()]; ok {
			aopts = append(aopts, testutil.WithLabelField(label))
		}
		r.sess.RegisterAdapter(testutil.NewAdapter(typ, r.remote, aopts...))
	}
	for _, row := range scenario.Seed {
		r.remote.Seed(row.Type, row.Keys, row.Fields)
	}
	for _, rule := range scenario.Fail {
		err := fmt.Errorf("%s", rule.Message)
		switch {
		case rule.Type != "":
			r.remote.FailWith(rule.Op, rule.Type, err)
		case rule.Label != "":
			r.remote.FailLabelWith(rule.Op, rule.Label, err)
		default:
			return nil, fmt.Errorf("scenario %s: fail rule needs type or label", scenario.Name)
		}
	}

	for i, step := range scenario.Steps {
		if err := r.runStep(step); err != nil {
			return nil, fmt.Errorf("scenario %s, step %d: %w", scenario.Name, i+1, err)
		}
	}
	return &Result{Trace: r.trace}, nil
}

func (r *runner) runStep(step Step) error {
	switch {
	case step.Get != nil:
		return r.runGet(step.Get)
	case step.Add != nil:
		return r.runAdd(step.Add)
	case step.Set != nil:
		return r.runSet(step.Set)
	case step.Remove != nil:
		return r.runRemove(step.Remove)
	case step.Commit != nil:
		return r.runCommit(step.Commit)
	case step.Rollback != nil:
		r.sess.Rollback()
		r.trace = append(r.trace, "rollback")
		return nil
	case step.Reset != nil:
		r.sess.Reset()
		r.trace = append(r.trace, "reset")
		return nil
	case step.Check != nil:
		return r.runCheck(step.Check)
	}
	return fmt.Errorf("empty step")
}

func (r *runner) runGet(step *GetStep) error {
	e, err := r.sess.Get(context.Background(), step.Type, step.Keys...)
	r.traceLine("get %s as %s -> %s",
		canonical.KeyString(step.Type, step.Keys), step.As, outcome(err))
	if err := expect(step.ExpectError, err); err != nil {
		return err
	}
	if err == nil {
		r.handles[step.As] = e
	}
	return nil
}

func (r *runner) runAdd(step *AddStep) error {
	typ, ok := r.types[step.Type]
	if !ok {
		return fmt.Errorf("unknown entity type %q", step.Type)
	}
	e := typ.New()
	var err error
	for _, name := range sortedKeys(step.Fields) {
		if err = e.Set(name, step.Fields[name]); err != nil {
			break
		}
	}
	if err == nil {
		err = r.sess.Add(e)
	}
	r.traceLine("add %s as %s -> %s", step.Type, step.As, outcome(err))
	if err := expect(step.ExpectError, err); err != nil {
		return err
	}
	if err == nil {
		r.handles[step.As] = e
	}
	return nil
}

func (r *runner) runSet(step *SetStep) error {
	e, err := r.handle(step.Entity)
	if err != nil {
		return err
	}
	value := step.Value
	if step.Ref != "" {
		ref, err := r.handle(step.Ref)
		if err != nil {
			return err
		}
		value = ref
	}
	err = e.Set(step.Field, value)
	r.traceLine("set %s.%s -> %s", step.Entity, step.Field, outcome(err))
	return expect(step.ExpectError, err)
}

func (r *runner) runRemove(step *RemoveStep) error {
	e, err := r.handle(step.Entity)
	if err != nil {
		return err
	}
	err = r.sess.Remove(e)
	r.traceLine("remove %s -> %s", step.Entity, outcome(err))
	return expect(step.ExpectError, err)
}

func (r *runner) runCommit(step *CommitStep) error {
	r.callMark = len(r.remote.Calls())
	_, err := r.sess.Commit(context.Background())
	r.traceLine("commit -> %s", outcome(err))

	calls := r.remote.Calls()[r.callMark:]
	sort.Slice(calls, func(i, j int) bool {
		if calls[i].Op != calls[j].Op {
			return calls[i].Op < calls[j].Op
		}
		if calls[i].Type != calls[j].Type {
			return calls[i].Type < calls[j].Type
		}
		return calls[i].Label < calls[j].Label
	})
	for _, c := range calls {
		r.traceLine("  call %s %s %s", c.Op, c.Type, c.Label)
	}
	return expect(step.ExpectError, err)
}

func (r *runner) runCheck(step *CheckStep) error {
	e, err := r.handle(step.Entity)
	if err != nil {
		return err
	}
	if step.State != "" && e.State().String() != step.State {
		return fmt.Errorf("check %s: state %s, want %s", step.Entity, e.State(), step.State)
	}
	if step.Field != "" {
		got, err := e.Get(step.Field)
		if err != nil {
			return fmt.Errorf("check %s: %w", step.Entity, err)
		}
		if canonical.String(got) != canonical.String(step.Value) {
			return fmt.Errorf("check %s.%s: got %s, want %s",
				step.Entity, step.Field, canonical.String(got), canonical.String(step.Value))
		}
	}
	r.traceLine("check %s -> ok", step.Entity)
	return nil
}

func (r *runner) handle(name string) (*entity.Entity, error) {
	e, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("unknown entity handle %q", name)
	}
	return e, nil
}

func (r *runner) traceLine(format string, args ...any) {
	r.trace = append(r.trace, fmt.Sprintf(format, args...))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error: " + err.Error()
}

// expect reconciles a step's declared expectation with its actual error.
func expect(want string, err error) error {
	if want == "" {
		return err
	}
	if err == nil {
		return fmt.Errorf("expected error containing %q, got success", want)
	}
	if !strings.Contains(err.Error(), want) {
		return fmt.Errorf("expected error containing %q, got: %v", want, err)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
