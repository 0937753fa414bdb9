// Package dispatch implements the request dispatcher: given a decoded
// legacy frame and the channel it arrived on, it looks up the registered
// handler by message ID, enforces the stream authentication precondition,
// invokes the handler, and falls back to a generic response for anything
// unhandled. Handlers are independent values in a declarative lookup
// table, not a class hierarchy.
package dispatch
