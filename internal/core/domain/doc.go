// Package domain defines the core domain models for SeqMesh.
//
// Domain models are pure value objects without any IO dependencies.
// This package contains:
//
//   - SessionID: FIX session identity and the resource names derived from it
//   - Sequence number bounds and the reserved creation-time key
//   - Errors: DomainError codes shared by every layer
package domain
