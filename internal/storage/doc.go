// Package storage provides the durable single-node substrate for SeqMesh.
//
// BadgerEngine wraps dgraph-io/badger with transaction conflict detection so
// that read-modify-write operations (SetIfAbsent, Swap, Update) are atomic
// per key. KVBackend maps the seqstore.Backend model onto any KVEngine:
//
//   - namespace marker:  'm' | len(name) | name
//   - namespace entry:   'n' | len(name) | name | order-preserving int64 key
//   - counter:           'c' | name  ->  value | initial
//
// Lengths are 4-byte big-endian so that one name can never be a prefix of
// another.
package storage
