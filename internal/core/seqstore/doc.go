// Package seqstore implements the durable FIX session message store.
//
// A SessionStore keeps, per FIX session, the next outgoing (sender) and next
// expected incoming (target) sequence numbers, a log of outgoing messages
// keyed by sequence number, and the session creation time. State lives in a
// shared Backend so several processes can serve the same session.
//
// The package is organised bottom-up:
//
//   - backend.go: capability interfaces a substrate must provide
//   - counter.go: bounded sequence counter with compare-and-set retries
//   - messagelog.go: sparse message log plus the creation time entry
//   - store.go: SessionStore, the per-session facade
//   - factory.go: Factory, which provisions SessionStores
//
// Every operation is synchronous and bounded by a deadline. Failures surface
// as domain.ErrStoreUnavailable, domain.ErrCorruptStore or, for caller
// mistakes, domain.ErrInvalidArgument and domain.ErrSeqNumOutOfRange.
package seqstore
