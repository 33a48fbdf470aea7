package session

import (
	"context"

	"github.com/roach88/remit/internal/entity"
)

// Adapter is the remote-access contract for one entity type. An adapter
// opts into operations by implementing the corresponding capability
// interface below; preflight checks capabilities by type assertion, so a
// commit touching an unsupported operation is rejected before any remote
// call is made.
//
// Adapters fetch and write back values through the entity's privileged
// Load path. They never call Set: frozen policies apply to users, not to
// the remote.
type Adapter interface {
	// EntityType names the entity type this adapter serves.
	EntityType() string
}

// Reader is implemented by adapters that can fetch by primary key. The
// returned entity must be a fresh instance populated via Load; the session
// decides whether it or an already-cached instance survives. A missing
// resource is reported by wrapping ErrNotFound.
type Reader interface {
	Get(ctx context.Context, keys []any) (*entity.Entity, error)
}

// Creator is implemented by adapters that can create. Server-assigned
// values (typically the primary key) must be written back via Load before
// returning.
type Creator interface {
	Add(ctx context.Context, e *entity.Entity) error
}

// Updater is implemented by adapters that can update. ModifiedFields
// exposes the persistent value of each changed field for minimal payloads.
type Updater interface {
	Update(ctx context.Context, e *entity.Entity) error
}

// Deleter is implemented by adapters that can remove.
type Deleter interface {
	Remove(ctx context.Context, e *entity.Entity) error
}

// Binder is implemented by adapters that need the owning session, e.g. to
// resolve referenced entities while materializing rows. BindSession is
// called once at registration.
type Binder interface {
	BindSession(s *Session)
}
