// Package handlers implements the legacy message plane's business logic
// (C5): one function per message id, registered against a dispatch.Table
// and invoked with a *Context built from the running application's
// store, connection pool, static configuration snapshot, run-state
// probe, and pre-shutdown drain sink. Handlers are grouped by domain
// across node.go, target.go, buddygroup.go, pool.go, quota.go, and
// misc.go; register.go wires the table.
package handlers
