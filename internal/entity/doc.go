// Package entity defines the building blocks for locally tracked remote
// resources: typed field descriptors, entity types assembled from explicit
// field lists, and entity instances carrying two value sets (current and
// last-persisted) plus a lifecycle state.
//
// LIFECYCLE:
//
// An entity starts UNBOUND. A session moves it to CLEAN (fetched), NEW
// (added), DIRTY (mutated) or DELETED (removed), and finally back to CLEAN
// or to DISCARDED after a commit or rollback. DISCARDED is terminal - a
// discarded entity can never be tracked again. All transitions go through
// the NextState table; nothing else mutates State.
//
// CHANGE TRACKING:
//
// Entities do not store a full second snapshot. They keep the original
// (persistent) value of each modified field, which is enough to detect
// dirtiness, to roll back, and to let adapters send minimal payloads via
// IsFieldModified. Setting a field back to its original value removes the
// entry, so a manually reverted entity is clean again.
//
// WRITE PATHS:
//
// Set is the user-facing path: it validates, consults the bound observer
// (the session) for frozen-policy enforcement, and records the change.
// Load is the privileged path used by sessions and adapters when writing
// back fetched or server-assigned values: it validates but bypasses the
// observer and marks the value as already persisted.
package entity
