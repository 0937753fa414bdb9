// Package switchover runs the buddy group promotion engine: on a fixed
// period it scans every buddy group and promotes the secondary target to
// primary when the primary has gone unresponsive (or needs a resync) and
// the secondary is healthy and has been recently reachable.
package switchover
