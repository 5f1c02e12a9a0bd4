// Package remote implements seqstore.Backend as a client of a SeqMesh RESP
// server, so that several processes can share one substrate.
//
// Connections are pooled. Each call maps its context deadline onto the
// socket deadline and a cancelled context interrupts the call in flight.
// When a Raft follower answers NOTLEADER with a leader address the client
// switches to that address and retries once.
package remote
