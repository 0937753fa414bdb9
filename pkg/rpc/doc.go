// Package rpc implements the structured RPC surface (C10): the
// identity-resolving, precondition-checked counterpart to the legacy
// dispatch table in pkg/handlers. It is exposed over real grpc-go
// transport (HTTP/2 framing, server streaming, context cancellation,
// optional mTLS) but without protoc-generated stubs — request and
// response values are plain Go structs carried by a hand-rolled JSON
// codec and registered against a hand-built grpc.ServiceDesc.
//
// Every method here re-derives the entity it operates on from an
// EntityRef (uid, alias, or legacy (node_type, num_id) pair) and enforces
// the invariants the legacy protocol leaves to its callers: a node with
// owned targets refuses deletion, a target that roots the filesystem or
// belongs to a buddy group refuses deletion, and a buddy
// group deletion runs as two bracketed transactions with an operator
// dry-run mode that commits nothing.
package rpc
