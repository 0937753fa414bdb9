// Package store is the single-writer transactional SQL state store: one
// serialized writer connection backed by a dedicated worker goroutine,
// and a pool of read-only connections for concurrent readers. Schema
// migrations are tracked in the database's own PRAGMA user_version.
package store
