package session

import (
	"context"
	"fmt"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
)

// QueryFunc produces entities from the remote. Implementations go through
// adapters or raw clients directly; the session registers whatever comes
// back.
type QueryFunc func(ctx context.Context, s *Session) ([]*entity.Entity, error)

// Query is a named, parameterized remote read whose results are cached by
// signature. Two queries with the same Name and Args share one cache slot.
type Query struct {
	Name string
	Args []any
	Fn   QueryFunc
}

// Signature returns the result-cache key for this query.
func (q Query) Signature() string {
	return canonical.Signature(q.Name, q.Args)
}

// RunQuery executes a query, serving repeated calls from the result cache.
// With force set the query function runs again even when cached.
//
// Every returned entity is folded into the identity map: identities
// already tracked resolve to the tracked instance (its local state wins,
// the incoming instance is dropped), unseen ones become tracked and clean.
func (s *Session) RunQuery(ctx context.Context, q Query, force bool) ([]*entity.Entity, error) {
	if q.Fn == nil {
		return nil, fmt.Errorf("query %s: nil function", q.Name)
	}
	sig := q.Signature()
	if !force {
		if cached, ok := s.results.Get(sig); ok {
			return cached, nil
		}
	}
	fetched, err := q.Fn(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Name, err)
	}
	out := make([]*entity.Entity, len(fetched))
	for i, e := range fetched {
		out[i] = s.track(e)
	}
	s.results.Put(sig, out)
	return out, nil
}
