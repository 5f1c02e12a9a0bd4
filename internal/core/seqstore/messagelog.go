package seqstore

import (
	"context"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
)

// MessageLog stores outgoing messages by sequence number in a Namespace.
//
// Key domain.CreationTimeKey holds the session creation time and is never
// returned as a message.
type MessageLog struct {
	ns Namespace
}

// NewMessageLog wraps ns.
func NewMessageLog(ns Namespace) *MessageLog {
	return &MessageLog{ns: ns}
}

// Put stores payload under seq and reports whether seq was previously absent.
// An existing payload is overwritten.
func (l *MessageLog) Put(ctx context.Context, seq int64, payload string) (bool, error) {
	if err := domain.ValidateSeqNum(seq); err != nil {
		return false, err
	}
	inserted, err := l.ns.Put(ctx, seq, payload)
	if err != nil {
		return false, classify(err)
	}
	return inserted, nil
}

// GetRange returns the payloads stored for start..end inclusive, in
// ascending sequence order. Gaps are skipped. The result is never nil.
func (l *MessageLog) GetRange(ctx context.Context, start, end int64) ([]string, error) {
	if start < domain.MinSeqNum {
		start = domain.MinSeqNum
	}
	if end > domain.MaxSeqNum {
		end = domain.MaxSeqNum
	}
	if start > end {
		return []string{}, nil
	}

	entries, err := l.ns.GetRange(ctx, start, end)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Key == domain.CreationTimeKey {
			continue
		}
		out = append(out, e.Value)
	}
	return out, nil
}

// CreationTime returns the stored creation time.
func (l *MessageLog) CreationTime(ctx context.Context) (time.Time, error) {
	raw, found, err := l.ns.Get(ctx, domain.CreationTimeKey)
	if err != nil {
		return time.Time{}, classify(err)
	}
	if !found {
		return time.Time{}, domain.ErrCorruptStore.WithDetails("creation time missing")
	}
	return domain.ParseCreationTime(raw)
}

// InitCreationTime records t unless a creation time already exists, and
// returns the effective creation time.
func (l *MessageLog) InitCreationTime(ctx context.Context, t time.Time) (time.Time, error) {
	inserted, err := l.ns.PutIfAbsent(ctx, domain.CreationTimeKey, domain.FormatCreationTime(t))
	if err != nil {
		return time.Time{}, classify(err)
	}
	if inserted {
		return time.UnixMilli(t.UnixMilli()).UTC(), nil
	}
	return l.CreationTime(ctx)
}

// WriteCreationTime records t unconditionally.
func (l *MessageLog) WriteCreationTime(ctx context.Context, t time.Time) error {
	_, err := l.ns.Put(ctx, domain.CreationTimeKey, domain.FormatCreationTime(t))
	return classify(err)
}

// ClearAll removes every message and the creation time.
func (l *MessageLog) ClearAll(ctx context.Context) error {
	return classify(l.ns.Clear(ctx))
}
