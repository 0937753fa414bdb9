/*
Package types defines the core data structures shared across the
management daemon.

This package holds the domain model described in the state store's
schema: the topology (nodes, targets, buddy groups, storage pools), the
filesystem root pointer, and the quota model (default limits, per-ID
limits, and collected usage). These are the typed records that pkg/store
reads out of and writes into SQL transactions, and that pkg/handlers,
pkg/capacity, pkg/switchover, and pkg/quota operate on.

# Identity

Every addressable object carries a process-global Uid. An Entity pairs a
Uid with its EntityKind and its unique human-readable Alias, as the
store's alias table records them. Uids are never reused. Aliases are
unique across all entity kinds; see AliasPattern for where the alias
pattern is checked.

# Topology

Node describes a meta, storage, client, or management node. Server
nodes carry a 16-bit NumID; clients carry a 32-bit NumID allocated from
a persisted monotonic counter. Target describes a single meta or
storage target, including its last-reported Capacities and
ConsistencyState. BuddyGroup pairs two targets of the same NodeType for
mirroring; Pool groups storage targets and groups under a PoolID, with
PoolID 0 reserved as the non-removable default pool.

# Quota

QuotaDefaultLimit, QuotaLimit, and QuotaUsage model the three-level
quota lookup: a per-ID limit overrides the pool's default limit, and
usage is collected per target and aggregated by pkg/quota.

# Thread safety

Values in this package carry no synchronization of their own; callers
obtain them from a pkg/store transaction and must not mutate a value
after handing it across a goroutine boundary without copying it.
*/
package types
