// Package capacity classifies a target or buddy group's remaining free
// space and inodes into a CapacityCategory. It is a pure package: no I/O,
// no store access, safe to call from any goroutine.
package capacity
