package seqstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
	"github.com/yndnr/seqmesh-go/internal/telemetry/tracer"
)

// SessionStore is the message store of one FIX session.
//
// A SessionStore holds no state of its own beyond handles to shared
// resources, so any number of stores for the same session, in any number of
// processes, observe and mutate the same data. It is safe for concurrent use.
type SessionStore struct {
	sid     domain.SessionID
	sender  *Counter
	target  *Counter
	log     *MessageLog
	opts    Options
	logger  logger.Logger
	metrics *metric.Registry
}

// SessionID returns the session this store belongs to.
func (s *SessionStore) SessionID() domain.SessionID {
	return s.sid
}

// ============================================================================
// Message log
// ============================================================================

// Get appends the messages stored for sequence numbers start..end inclusive
// to messages, in ascending order, and returns the extended slice. Missing
// sequence numbers are skipped.
func (s *SessionStore) Get(ctx context.Context, start, end int, messages []string) (_ []string, err error) {
	ctx, done := s.begin(ctx, "get", attribute.Int("start", start), attribute.Int("end", end))
	defer func() { done(err) }()

	got, err := s.log.GetRange(ctx, int64(start), int64(end))
	if err != nil {
		return messages, err
	}
	return append(messages, got...), nil
}

// Set stores message under seq and reports whether this was the first write
// for seq. An existing message is replaced.
func (s *SessionStore) Set(ctx context.Context, seq int, message string) (inserted bool, err error) {
	ctx, done := s.begin(ctx, "set", attribute.Int("seq", seq))
	defer func() { done(err) }()

	return s.log.Put(ctx, int64(seq), message)
}

// ============================================================================
// Sequence numbers
// ============================================================================

// NextSenderMsgSeqNum returns the next outgoing sequence number.
func (s *SessionStore) NextSenderMsgSeqNum(ctx context.Context) (int, error) {
	return s.counterGet(ctx, "next_sender", s.sender)
}

// NextTargetMsgSeqNum returns the next expected incoming sequence number.
func (s *SessionStore) NextTargetMsgSeqNum(ctx context.Context) (int, error) {
	return s.counterGet(ctx, "next_target", s.target)
}

// SetNextSenderMsgSeqNum sets the next outgoing sequence number.
func (s *SessionStore) SetNextSenderMsgSeqNum(ctx context.Context, n int) error {
	return s.counterSet(ctx, "set_next_sender", s.sender, n)
}

// SetNextTargetMsgSeqNum sets the next expected incoming sequence number.
func (s *SessionStore) SetNextTargetMsgSeqNum(ctx context.Context, n int) error {
	return s.counterSet(ctx, "set_next_target", s.target, n)
}

// IncrNextSenderMsgSeqNum advances the next outgoing sequence number by one.
//
// The new value is not returned. A NextSenderMsgSeqNum call that follows may
// observe further increments made concurrently by other holders of the
// session.
func (s *SessionStore) IncrNextSenderMsgSeqNum(ctx context.Context) error {
	return s.counterIncr(ctx, "incr_next_sender", s.sender)
}

// IncrNextTargetMsgSeqNum advances the next expected incoming sequence
// number by one. See IncrNextSenderMsgSeqNum.
func (s *SessionStore) IncrNextTargetMsgSeqNum(ctx context.Context) error {
	return s.counterIncr(ctx, "incr_next_target", s.target)
}

func (s *SessionStore) counterGet(ctx context.Context, op string, c *Counter) (_ int, err error) {
	ctx, done := s.begin(ctx, op)
	defer func() { done(err) }()

	v, err := c.Get(ctx)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (s *SessionStore) counterSet(ctx context.Context, op string, c *Counter, n int) (err error) {
	ctx, done := s.begin(ctx, op, attribute.Int("seq", n))
	defer func() { done(err) }()

	return c.SetNext(ctx, int64(n))
}

func (s *SessionStore) counterIncr(ctx context.Context, op string, c *Counter) (err error) {
	ctx, done := s.begin(ctx, op)
	defer func() { done(err) }()

	_, err = c.Increment(ctx)
	return err
}

// ============================================================================
// Lifecycle
// ============================================================================

// CreationTime returns when the session's store was first provisioned or,
// after a reset, the creation time it carried before the reset.
func (s *SessionStore) CreationTime(ctx context.Context) (_ time.Time, err error) {
	ctx, done := s.begin(ctx, "creation_time")
	defer func() { done(err) }()

	return s.log.CreationTime(ctx)
}

// Reset returns both counters to 1 and discards every stored message.
// The creation time is preserved.
//
// The steps are not atomic as a group. A failure part way leaves the store
// partially reset and Reset should be retried; if the creation time was lost
// it is re-initialised the next time the store is provisioned.
func (s *SessionStore) Reset(ctx context.Context) (err error) {
	ctx, done := s.begin(ctx, "reset")
	defer func() { done(err) }()

	// 1. Capture the creation time before it is cleared.
	created, err := s.log.CreationTime(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrCorruptStore) {
			return err
		}
		s.ctxLogger(ctx).Warn("creation time unreadable during reset, re-initialising", "error", err)
		created = s.opts.Now()
	}

	// 2. Counters back to 1.
	if err := s.sender.Reset(ctx); err != nil {
		return err
	}
	if err := s.target.Reset(ctx); err != nil {
		return err
	}

	// 3. Drop every message.
	if err := s.log.ClearAll(ctx); err != nil {
		return err
	}

	// 4. Restore the creation time.
	if err := s.log.WriteCreationTime(ctx, created); err != nil {
		return err
	}

	s.ctxLogger(ctx).Info("session store reset")
	return nil
}

// Refresh is a no-op. The store keeps no local cache, so there is nothing
// to reload.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.ctxLogger(ctx).Debug("refresh requested, store is uncached")
	return nil
}

// ctxLogger is the store logger with the request and trace ids of ctx.
func (s *SessionStore) ctxLogger(ctx context.Context) logger.Logger {
	return logger.L(logger.WithLogger(ctx, s.logger))
}

// begin applies the operation timeout, starts a span and returns a function
// that records the outcome.
func (s *SessionStore) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, cancel := withTimeout(ctx, s.opts.OpTimeout)

	attrs = append(attrs, attribute.String("session_id", s.sid.String()))
	ctx, span := tracer.Start(ctx, "seqstore."+op, attrs...)

	return ctx, func(err error) {
		cancel()
		tracer.End(span, err)
		s.metrics.ObserveStoreOp(op, start, err)
	}
}
