// Package memory provides the in-memory substrate for SeqMesh.
//
// Backend keeps namespaces and counters in sharded concurrent maps. It is
// used on its own for single-process deployments and tests, and as the
// replicated state machine inside the Raft cluster, which is why it exposes
// name-addressed methods and Snapshot/Restore next to the seqstore.Backend
// implementation.
package memory
