// Package connpool owns every outbound and inbound legacy-protocol
// connection: per-peer address lists, cached idle TCP streams bounded by
// a dial permit, and the shared UDP socket(s) used for broadcast
// notifications. Inbound streams and datagrams are handed to a Dispatcher
// (pkg/dispatch) after an authentication precondition is checked.
package connpool
