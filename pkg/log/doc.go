/*
Package log provides structured logging for the management daemon using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support
filtering by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all mgmtd packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs (e.g. "store", "dispatch", "switchover")
  - Per-entity fields (node_uid, target_uid, pool_id, ...) are chained onto a
    component logger with zerolog's own With() builder at the call site
    rather than through dedicated helpers, since the field set needed
    varies by call site and a fixed helper per field name doesn't scale.

# Usage

Initializing the Logger:

	import "github.com/beegfs-io/mgmtd/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("state store opened")
	log.Warn("target reporting low free space")
	log.Error("failed to dial storage node")
	log.Fatal("cannot start without state store")

Component Loggers:

	switchoverLog := log.WithComponent("switchover")
	switchoverLog.Info().Msg("starting switchover evaluation cycle")

	targetLog := log.WithComponent("dispatch").
		With().Uint64("target_uid", uint64(target.Uid)).Logger()
	targetLog.Warn().Msg("consistency state downgraded to NeedsResync")

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"switchover","time":"2026-07-29T10:30:00Z","message":"promoted secondary to primary"}
	{"level":"warn","component":"quota","pool_id":0,"time":"2026-07-29T10:30:01Z","message":"quota id exceeded effective limit"}

Console Format (Development):

	10:30:00 INF promoted secondary to primary component=switchover
	10:30:01 WRN quota id exceeded effective limit component=quota pool_id=0

# Security

Never log quota IDs' associated credentials or authentication secrets
carried by the legacy connection-auth handshake; log the outcome, not the
secret.
*/
package log
