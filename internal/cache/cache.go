// Package cache holds the session's identity map and query result cache.
//
// The identity map guarantees at most one tracked instance per remote
// identity: registering a second instance with the same type and primary
// key hands back the one already stored. Entities are indexed twice, by
// synthetic identifier always and by canonical identity key whenever they
// have a complete primary key.
package cache

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/remit/internal/canonical"
	"github.com/roach88/remit/internal/entity"
)

// ErrKeyConflict indicates a reindex that would collide with a different
// entity already registered under the target identity.
var ErrKeyConflict = fmt.Errorf("identity key already registered to another entity")

// identityKey computes the canonical identity of an entity, or "" when the
// entity has no complete primary key.
func identityKey(e *entity.Entity) string {
	if !e.HasPrimaryKey() {
		return ""
	}
	return canonical.KeyString(e.Type().Name(), e.PrimaryKeyValues())
}

// EntityCache is the identity map. Safe for concurrent use.
type EntityCache struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*entity.Entity
	// byKey only holds entities with a complete primary key.
	byKey map[string]*entity.Entity
	// keyOf remembers the key each entity was registered under, so a
	// reindex can drop the stale index entry.
	keyOf map[uuid.UUID]string
}

// NewEntityCache returns an empty identity map.
func NewEntityCache() *EntityCache {
	return &EntityCache{
		byID:  make(map[uuid.UUID]*entity.Entity),
		byKey: make(map[string]*entity.Entity),
		keyOf: make(map[uuid.UUID]string),
	}
}

// Register stores an entity, or returns the instance that already owns its
// identity. The second return reports whether the given entity was
// inserted; when false, the first return is the previously stored instance
// and the given one must be discarded by the caller.
func (c *EntityCache) Register(e *entity.Entity) (*entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if stored, ok := c.byID[e.UUID()]; ok {
		return stored, stored == e
	}
	key := identityKey(e)
	if key != "" {
		if stored, ok := c.byKey[key]; ok {
			return stored, false
		}
		c.byKey[key] = e
	}
	c.byID[e.UUID()] = e
	c.keyOf[e.UUID()] = key
	return e, true
}

// Lookup finds a registered entity by type name and primary-key values.
func (c *EntityCache) Lookup(typeName string, keys []any) (*entity.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byKey[canonical.KeyString(typeName, keys)]
	return e, ok
}

// ByID finds a registered entity by synthetic identifier.
func (c *EntityCache) ByID(id uuid.UUID) (*entity.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	return e, ok
}

// Has reports whether the entity itself is registered.
func (c *EntityCache) Has(e *entity.Entity) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[e.UUID()] == e
}

// Reindex recomputes an entity's identity key after its primary-key fields
// changed, typically when the remote assigned the key during creation. The
// stale index entry is dropped. Registering over a different entity's
// identity fails with ErrKeyConflict and changes nothing.
func (c *EntityCache) Reindex(e *entity.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.byID[e.UUID()] != e {
		return fmt.Errorf("reindex of unregistered entity %s", e.Type().Name())
	}
	oldKey := c.keyOf[e.UUID()]
	newKey := identityKey(e)
	if newKey == oldKey {
		return nil
	}
	if newKey != "" {
		if stored, ok := c.byKey[newKey]; ok && stored != e {
			return fmt.Errorf("%w: %s", ErrKeyConflict, newKey)
		}
	}
	if oldKey != "" {
		delete(c.byKey, oldKey)
	}
	if newKey != "" {
		c.byKey[newKey] = e
	}
	c.keyOf[e.UUID()] = newKey
	return nil
}

// Evict removes one entity from both indexes.
func (c *EntityCache) Evict(e *entity.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byID[e.UUID()] != e {
		return
	}
	if key := c.keyOf[e.UUID()]; key != "" {
		delete(c.byKey, key)
	}
	delete(c.byID, e.UUID())
	delete(c.keyOf, e.UUID())
}

// All returns every registered entity in unspecified order.
func (c *EntityCache) All() []*entity.Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*entity.Entity, 0, len(c.byID))
	for _, e := range c.byID {
		out = append(out, e)
	}
	return out
}

// Len returns the number of registered entities.
func (c *EntityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Clear drops every entity and returns the dropped set, so the caller can
// mark them discarded.
func (c *EntityCache) Clear() []*entity.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entity.Entity, 0, len(c.byID))
	for _, e := range c.byID {
		out = append(out, e)
	}
	c.byID = make(map[uuid.UUID]*entity.Entity)
	c.byKey = make(map[string]*entity.Entity)
	c.keyOf = make(map[uuid.UUID]string)
	return out
}

// ResultCache remembers query results by signature. Stored slices are
// copied on the way in and out, so callers can never mutate a cached
// result in place.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string][]*entity.Entity
}

// NewResultCache returns an empty query result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string][]*entity.Entity)}
}

// Get returns the cached result for a signature, if any.
func (c *ResultCache) Get(sig string) ([]*entity.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[sig]
	if !ok {
		return nil, false
	}
	out := make([]*entity.Entity, len(r))
	copy(out, r)
	return out, true
}

// Put stores a result for a signature, replacing any previous one.
func (c *ResultCache) Put(sig string, result []*entity.Entity) {
	stored := make([]*entity.Entity, len(result))
	copy(stored, result)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[sig] = stored
}

// Delete drops one cached result.
func (c *ResultCache) Delete(sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, sig)
}

// Clear drops every cached result.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string][]*entity.Entity)
}
