// Package clusterserver replicates session store state across SeqMesh
// nodes.
//
// A cluster is a Raft group whose finite state machine holds the same
// namespaces and counters as the memory backend. Backend adapts that group
// to seqstore.Backend: writes are log entries, reads are served by the
// leader after a quorum check. Followers reject both with NOTLEADER and the
// leader's client address so RESP clients can redirect.
//
// Membership is discovered over gossip (hashicorp/memberlist). The leader
// adds newly seen nodes as Raft voters and records their addresses in the
// replicated state; nodes that leave gossip are removed.
package clusterserver
