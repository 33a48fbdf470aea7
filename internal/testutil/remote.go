// Package testutil provides a scripted in-memory remote and a full adapter
// over it, used by the session tests and the scenario harness. The remote
// records the start and end sequence of every call so tests can assert
// dependency ordering across concurrent dispatches, and can be told to
// fail specific operations.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/session"
)

// CallRecord is one remote call as observed by the fake. Start and End are
// positions on a shared monotonic sequence; call A finished before call B
// started iff A.End < B.Start.
type CallRecord struct {
	Op    string
	Type  string
	Label string
	Start int64
	End   int64
}

// Remote is a scripted in-memory store standing in for a REST service.
// Safe for concurrent use.
type Remote struct {
	mu      sync.Mutex
	seq     int64
	rows    map[string]map[string]map[string]any
	nextKey map[string]int64
	fail    map[string]error
	calls   []CallRecord
	latency time.Duration
}

// NewRemote returns an empty remote.
func NewRemote() *Remote {
	return &Remote{
		rows:    make(map[string]map[string]map[string]any),
		nextKey: make(map[string]int64),
		fail:    make(map[string]error),
	}
}

// SetLatency makes every call sleep before touching the store, widening
// the window in which concurrent calls overlap.
func (r *Remote) SetLatency(d time.Duration) {
	r.mu.Lock()
	r.latency = d
	r.mu.Unlock()
}

// FailWith makes every call of the given operation on the given type fail
// with err. Pass a nil err to clear.
func (r *Remote) FailWith(op, typeName string, err error) {
	r.setFail("type:"+op+":"+typeName, err)
}

// FailLabelWith makes calls of the given operation with the given call
// label fail with err. Pass a nil err to clear.
func (r *Remote) FailLabelWith(op, label string, err error) {
	r.setFail("label:"+op+":"+label, err)
}

func (r *Remote) setFail(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, key)
		return
	}
	r.fail[key] = err
}

// Seed stores a row directly, bypassing call recording.
func (r *Remote) Seed(typeName string, keys []any, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table(typeName)[canonical.KeyString(typeName, keys)] = cloneRow(fields)
}

// Row returns a copy of a stored row, if present.
func (r *Remote) Row(typeName string, keys []any) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.table(typeName)[canonical.KeyString(typeName, keys)]
	if !ok {
		return nil, false
	}
	return cloneRow(row), true
}

// Calls returns all recorded calls in start order.
func (r *Remote) Calls() []CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor filters recorded calls by operation.
func (r *Remote) CallsFor(op string) []CallRecord {
	var out []CallRecord
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Find returns the first recorded call matching op and label.
func (r *Remote) Find(op, label string) (CallRecord, bool) {
	for _, c := range r.Calls() {
		if c.Op == op && c.Label == label {
			return c, true
		}
	}
	return CallRecord{}, false
}

// begin opens a call record and returns its index, or the injected error.
func (r *Remote) begin(op, typeName, label string) (int, error) {
	r.mu.Lock()
	latency := r.latency
	r.mu.Unlock()
	if latency > 0 {
		time.Sleep(latency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.calls = append(r.calls, CallRecord{Op: op, Type: typeName, Label: label, Start: r.seq})
	idx := len(r.calls) - 1
	err, ok := r.fail["type:"+op+":"+typeName]
	if !ok {
		err, ok = r.fail["label:"+op+":"+label]
	}
	if ok {
		r.seq++
		r.calls[idx].End = r.seq
		return idx, err
	}
	return idx, nil
}

// end closes a call record.
func (r *Remote) end(idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.calls[idx].End = r.seq
}

func (r *Remote) table(typeName string) map[string]map[string]any {
	t, ok := r.rows[typeName]
	if !ok {
		t = make(map[string]map[string]any)
		r.rows[typeName] = t
	}
	return t
}

// assignKey hands out the next integer key for a type.
func (r *Remote) assignKey(typeName string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextKey[typeName]++
	return r.nextKey[typeName]
}

func (r *Remote) get(typeName string, keys []any) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.table(typeName)[canonical.KeyString(typeName, keys)]
	if !ok {
		return nil, fmt.Errorf("%s%v: %w", typeName, keys, session.ErrNotFound)
	}
	return cloneRow(row), nil
}

func (r *Remote) put(typeName string, keys []any, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table(typeName)[canonical.KeyString(typeName, keys)] = cloneRow(fields)
}

func (r *Remote) delete(typeName string, keys []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := canonical.KeyString(typeName, keys)
	if _, ok := r.table(typeName)[k]; !ok {
		return fmt.Errorf("%s%v: %w", typeName, keys, session.ErrNotFound)
	}
	delete(r.table(typeName), k)
	return nil
}

func cloneRow(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
