// Command seqmesh-server serves the shared FIX session store.
//
// It exposes one storage driver (memory, badger or raft) over:
//
//   - a RESP listener used by storage/remote clients and seqmesh-cli
//   - an optional RESP TLS listener with hot-reloaded certificates
//   - an admin HTTP listener for health, readiness, metrics, status,
//     cluster membership, backup and value log GC
//
// Configuration comes from an optional YAML file, then SEQMESH_*
// environment variables (nested keys use a double underscore, e.g.
// SEQMESH_SERVER__RESP__ADDR). Changes to log.level in the file apply
// without a restart.
//
// Usage:
//
//	seqmesh-server --config /etc/seqmesh/server.yaml
//	seqmesh-server --config /etc/seqmesh/server.yaml --check
package main
