// Package logger provides structured logging for SeqMesh.
//
// This package wraps log/slog:
//
//   - logger.go: Logger interface, handler configuration, dynamic level
//   - context.go: Context-aware logging with request/trace IDs
//   - redact.go: Sensitive data redaction, including FIX password fields
//
// Components that integrate third-party libraries (badger, raft, memberlist)
// take a *slog.Logger; use ToSlog to obtain one from a Logger.
package logger
