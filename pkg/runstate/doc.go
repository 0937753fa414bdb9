// Package runstate tracks the single process-wide lifecycle state shared
// by every long-running task: Running, PreShutdown, then Shutdown. Tasks
// hold a strong handle for as long as they must not be interrupted;
// Shutdown waits for every strong handle to be released before
// returning.
package runstate
