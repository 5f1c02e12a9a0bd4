// Package backend opens the seqstore substrate named by configuration.
//
// Drivers:
//
//	memory  in-process, lost on exit
//	badger  durable single-process store in a local directory
//	raft    replicated store; this process is a cluster node
//	remote  RESP client of a seqmesh-server (or cluster)
//
// Config.Sessions overrides the substrate for individual session ids, the
// way a FIX engine's per-session settings may point a session at a
// different store.
package backend
