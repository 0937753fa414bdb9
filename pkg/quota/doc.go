// Package quota runs the periodic quota aggregator: on a fixed interval
// per storage pool it collects usage from every member target, persists
// it, and recomputes the exceeded-ID set for each tracked
// (id_type, quota_type), pushing the result to metadata and storage
// nodes.
package quota
