package session_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/remit/internal/entity"
	"github.com/roach88/remit/internal/session"
	"github.com/roach88/remit/internal/testutil"
)

func requireCallOrder(t *testing.T, remote *testutil.Remote, beforeOp, beforeLabel, afterOp, afterLabel string) {
	t.Helper()
	before, ok := remote.Find(beforeOp, beforeLabel)
	require.True(t, ok, "no recorded call %s %s", beforeOp, beforeLabel)
	after, ok := remote.Find(afterOp, afterLabel)
	require.True(t, ok, "no recorded call %s %s", afterOp, afterLabel)
	assert.Less(t, before.End, after.Start,
		"%s %s must finish before %s %s starts", beforeOp, beforeLabel, afterOp, afterLabel)
}

func TestCommitCreatesAndAssignsServerKey(t *testing.T) {
	s, remote := newFixture(t)
	e, err := s.Create(employeeType)
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "bob"))
	assert.False(t, e.HasPrimaryKey())

	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, session.OpCreate, tasks[0].Op)
	require.NoError(t, tasks[0].Err())

	assert.Equal(t, entity.StateClean, e.State())
	assert.False(t, e.IsModified())
	assert.True(t, e.HasPrimaryKey())

	// the reindexed identity resolves to the same instance, not a refetch
	got, err := s.Get(context.Background(), "Employee", e.MustGet("id"))
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.Empty(t, remote.CallsFor("get"))
}

func TestCommitUpdatesDirty(t *testing.T) {
	s, remote := newFixture(t)
	seedEmployee(remote, 1, "alice")
	e, err := s.Get(context.Background(), "Employee", 1)
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "renamed"))

	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, session.OpUpdate, tasks[0].Op)

	assert.Equal(t, entity.StateClean, e.State())
	row, ok := remote.Row("Employee", []any{int64(1)})
	require.True(t, ok)
	assert.Equal(t, "renamed", row["name"])
}

func TestCommitDeletes(t *testing.T) {
	s, remote := newFixture(t)
	seedEmployee(remote, 1, "alice")
	e, err := s.Get(context.Background(), "Employee", 1)
	require.NoError(t, err)
	require.NoError(t, s.Remove(e))

	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, session.OpDelete, tasks[0].Op)

	assert.Equal(t, entity.StateDiscarded, e.State())
	_, ok := remote.Row("Employee", []any{int64(1)})
	assert.False(t, ok)
	_, ok = s.Find("Employee", int64(1))
	assert.False(t, ok)
}

func TestCommitEmptySession(t *testing.T) {
	s, remote := newFixture(t)
	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Empty(t, remote.Calls())
}

func TestCreateOrderRespectsDependencies(t *testing.T) {
	s, remote := newFixture(t)
	company, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, company.Set("name", "acme"))

	emp, err := s.Create(employeeType)
	require.NoError(t, err)
	require.NoError(t, emp.Set("name", "bob"))
	require.NoError(t, emp.Set("company", company))

	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	requireCallOrder(t, remote, "add", "acme", "add", "bob")
}

func TestDeleteOrderReversesDependencies(t *testing.T) {
	s, remote := newFixture(t)
	remote.Seed("Company", []any{int64(1)}, map[string]any{"id": int64(1), "name": "acme"})
	seedEmployee(remote, 7, "bob")

	company, err := s.Get(context.Background(), "Company", 1)
	require.NoError(t, err)
	emp, err := s.Get(context.Background(), "Employee", 7)
	require.NoError(t, err)
	require.NoError(t, emp.Set("company", company))

	// persist the link first so both are clean before removal
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Remove(emp))
	require.NoError(t, s.Remove(company))
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	requireCallOrder(t, remote, "remove", "bob", "remove", "acme")
}

func TestPhasesRunSequentially(t *testing.T) {
	s, remote := newFixture(t)
	seedEmployee(remote, 1, "alice")
	dirty, err := s.Get(context.Background(), "Employee", 1)
	require.NoError(t, err)
	seedEmployee(remote, 2, "carol")
	doomed, err := s.Get(context.Background(), "Employee", 2)
	require.NoError(t, err)

	created, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, created.Set("name", "acme"))
	require.NoError(t, dirty.Set("name", "renamed"))
	require.NoError(t, s.Remove(doomed))

	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	requireCallOrder(t, remote, "add", "acme", "update", "renamed")
	requireCallOrder(t, remote, "update", "renamed", "remove", "carol")
}

func TestInterruptOnErrorSkipsDependents(t *testing.T) {
	s, remote := newFixture(t)
	remote.FailWith("add", "Company", fmt.Errorf("remote down"))

	company, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, company.Set("name", "acme"))
	emp, err := s.Create(employeeType)
	require.NoError(t, err)
	require.NoError(t, emp.Set("name", "bob"))
	require.NoError(t, emp.Set("company", company))

	tasks, err := s.Commit(context.Background())
	ce, ok := session.AsCommitError(err)
	require.True(t, ok)
	require.Len(t, tasks, 1, "the dependent create must never be attempted")
	assert.Len(t, ce.Failed, 1)

	assert.Equal(t, entity.StateNew, company.State(), "failed entity stays pending")
	assert.Equal(t, entity.StateNew, emp.State(), "unreached entity stays pending")

	adds := remote.CallsFor("add")
	require.Len(t, adds, 1)
	assert.Equal(t, "acme", adds[0].Label)
}

func TestInterruptOnErrorHaltsLaterPhases(t *testing.T) {
	s, remote := newFixture(t)
	seedEmployee(remote, 1, "alice")
	dirty, err := s.Get(context.Background(), "Employee", 1)
	require.NoError(t, err)
	require.NoError(t, dirty.Set("name", "renamed"))

	remote.FailWith("add", "Company", fmt.Errorf("remote down"))
	company, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, company.Set("name", "acme"))

	_, err = s.Commit(context.Background())
	require.Error(t, err)
	assert.Empty(t, remote.CallsFor("update"), "update phase must not start after create failure")
	assert.Equal(t, entity.StateDirty, dirty.State())
}

func TestContinueOnErrorRunsIndependents(t *testing.T) {
	s, remote := newFixture(t, session.WithErrorPolicy(session.ContinueOnError))
	remote.FailLabelWith("add", "b", fmt.Errorf("remote rejected b"))

	var all []*entity.Entity
	for _, name := range []string{"a", "b", "c"} {
		e, err := s.Create(employeeType)
		require.NoError(t, err)
		require.NoError(t, e.Set("name", name))
		all = append(all, e)
	}

	tasks, err := s.Commit(context.Background())
	ce, ok := session.AsCommitError(err)
	require.True(t, ok)
	assert.Len(t, tasks, 3, "independent entities all dispatch")
	assert.Len(t, ce.Failed, 1)

	states := map[string]entity.State{}
	for _, e := range all {
		states[e.MustGet("name").(string)] = e.State()
	}
	assert.Equal(t, entity.StateClean, states["a"])
	assert.Equal(t, entity.StateNew, states["b"])
	assert.Equal(t, entity.StateClean, states["c"])
}

func TestContinueOnErrorRetriesRemainder(t *testing.T) {
	s, remote := newFixture(t, session.WithErrorPolicy(session.ContinueOnError))
	remote.FailLabelWith("add", "b", fmt.Errorf("remote rejected b"))

	for _, name := range []string{"a", "b"} {
		e, err := s.Create(employeeType)
		require.NoError(t, err)
		require.NoError(t, e.Set("name", name))
	}
	_, err := s.Commit(context.Background())
	require.Error(t, err)

	remote.FailLabelWith("add", "b", nil)
	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1, "only the failed entity is retried")
	assert.Equal(t, "b", tasks[0].Entity.MustGet("name"))
}

func TestPreflightRejectsMissingAdapter(t *testing.T) {
	s := session.New()
	remote := testutil.NewRemote()
	s.RegisterAdapter(testutil.NewAdapter(companyType, remote))

	// Employee has no adapter
	e := employeeType.New()
	require.NoError(t, e.Set("name", "bob"))
	require.NoError(t, s.Add(e))

	_, err := s.Commit(context.Background())
	pe, ok := session.AsPreflightError(err)
	require.True(t, ok)
	assert.Equal(t, session.ErrCodeNoAdapter, pe.Code)
	assert.Empty(t, remote.Calls(), "preflight failure makes zero remote calls")
	assert.Equal(t, entity.StateNew, e.State(), "preflight failure changes no state")
}

func TestPreflightRejectsUnsupportedOperation(t *testing.T) {
	s := session.New()
	remote := testutil.NewRemote()
	s.RegisterAdapter(testutil.ReadOnly(testutil.NewAdapter(employeeType, remote)))
	seedEmployee(remote, 1, "alice")

	e, err := s.Get(context.Background(), "Employee", 1)
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "bob"))

	_, err = s.Commit(context.Background())
	pe, ok := session.AsPreflightError(err)
	require.True(t, ok)
	assert.Equal(t, session.ErrCodeUnsupported, pe.Code)
	assert.Len(t, remote.Calls(), 1, "only the original get may have hit the remote")
	assert.Equal(t, entity.StateDirty, e.State())
}

func TestPreflightRejectsDeleteOfReferencedEntity(t *testing.T) {
	s, remote := newFixture(t)
	remote.Seed("Company", []any{int64(1)}, map[string]any{"id": int64(1), "name": "acme"})
	seedEmployee(remote, 7, "bob")

	company, err := s.Get(context.Background(), "Company", 1)
	require.NoError(t, err)
	emp, err := s.Get(context.Background(), "Employee", 7)
	require.NoError(t, err)
	require.NoError(t, emp.Set("company", company))
	_, err = s.Commit(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Remove(company))
	before := len(remote.Calls())

	_, err = s.Commit(context.Background())
	pe, ok := session.AsPreflightError(err)
	require.True(t, ok)
	assert.Equal(t, session.ErrCodeDeleteReferenced, pe.Code)
	assert.Len(t, remote.Calls(), before, "rejected commit makes no remote calls")
	assert.Equal(t, entity.StateDeleted, company.State())
}

func TestPreflightRejectsDependencyCycle(t *testing.T) {
	s, remote := newFixture(t)
	a, err := s.Create(employeeType)
	require.NoError(t, err)
	b, err := s.Create(employeeType)
	require.NoError(t, err)
	require.NoError(t, a.Set("mentor", b))
	require.NoError(t, b.Set("mentor", a))

	_, err = s.Commit(context.Background())
	pe, ok := session.AsPreflightError(err)
	require.True(t, ok)
	assert.Equal(t, session.ErrCodeCycle, pe.Code)
	assert.Empty(t, remote.Calls())
}

type gatedAdapter struct {
	*testutil.Adapter
	started chan struct{}
	release chan struct{}
}

func (g *gatedAdapter) Add(ctx context.Context, e *entity.Entity) error {
	close(g.started)
	<-g.release
	return g.Adapter.Add(ctx, e)
}

func TestConcurrentCommitRejected(t *testing.T) {
	remote := testutil.NewRemote()
	gate := &gatedAdapter{
		Adapter: testutil.NewAdapter(companyType, remote),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := session.New()
	s.RegisterAdapter(gate)

	_, err := s.Create(companyType)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Commit(context.Background())
		done <- err
	}()

	<-gate.started
	_, err = s.Commit(context.Background())
	require.ErrorIs(t, err, session.ErrCommitInProgress)

	close(gate.release)
	require.NoError(t, <-done)
}

func TestTaskWaitAndAccessors(t *testing.T) {
	s, _ := newFixture(t)
	e, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "acme"))

	tasks, err := s.Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tasks[0].Wait(ctx))
	assert.Same(t, e, tasks[0].Entity)
	assert.GreaterOrEqual(t, tasks[0].Duration(), time.Duration(0))
}

func TestRaiseForStatus(t *testing.T) {
	assert.NoError(t, session.RaiseForStatus(nil))

	s, remote := newFixture(t, session.WithErrorPolicy(session.ContinueOnError))
	remote.FailLabelWith("add", "bad", errors.New("boom"))
	for _, name := range []string{"ok", "bad"} {
		e, err := s.Create(employeeType)
		require.NoError(t, err)
		require.NoError(t, e.Set("name", name))
	}
	tasks, err := s.Commit(context.Background())
	require.Error(t, err)

	rerr := session.RaiseForStatus(tasks)
	ce, ok := session.AsCommitError(rerr)
	require.True(t, ok)
	assert.Len(t, ce.Tasks, 2)
	assert.Len(t, ce.Failed, 1)
	assert.ErrorContains(t, ce, "1 of 2 tasks errored")
}

func TestCommitContextCancelled(t *testing.T) {
	s, _ := newFixture(t)
	e, err := s.Create(companyType)
	require.NoError(t, err)
	require.NoError(t, e.Set("name", "acme"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, entity.StateNew, e.State(), "cancelled work leaves the entity pending")
}
