package seqstore

import (
	"context"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

// Counter is a bounded sequence-number counter on top of a CounterPrimitive.
//
// Values are never cached: every Get reads the substrate, so all processes
// sharing the counter observe the same value.
type Counter struct {
	name       string
	prim       CounterPrimitive
	backoffMax time.Duration
	metrics    *metric.Registry
}

// NewCounter wraps prim. backoffMax caps the delay between SetNext retries.
func NewCounter(name string, prim CounterPrimitive, backoffMax time.Duration, metrics *metric.Registry) *Counter {
	if backoffMax <= 0 {
		backoffMax = DefaultCASBackoffMax
	}
	return &Counter{
		name:       name,
		prim:       prim,
		backoffMax: backoffMax,
		metrics:    metrics,
	}
}

// Name returns the substrate counter name.
func (c *Counter) Name() string {
	return c.name
}

// Get returns the current value. A value outside the sequence number range
// was not written through Counter and is reported as ErrSeqNumOutOfRange.
func (c *Counter) Get(ctx context.Context) (int64, error) {
	v, err := c.prim.Value(ctx)
	if err != nil {
		return 0, classify(err)
	}
	if err := domain.ValidateSeqNum(v); err != nil {
		return 0, domain.ErrSeqNumOutOfRange.WithDetailsf("counter %s holds %d", c.name, v)
	}
	return v, nil
}

// SetNext sets the counter to n.
//
// The substrate offers no unconditional set, so SetNext reads the current
// value and compare-and-sets it to n, retrying until a swap succeeds. A
// concurrent writer can only make the loop retry; when it succeeds the
// counter held n at that instant. The loop gives up when ctx expires.
func (c *Counter) SetNext(ctx context.Context, n int64) error {
	if err := domain.ValidateSeqNum(n); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		current, err := c.prim.Value(ctx)
		if err != nil {
			return classify(err)
		}
		if current == n {
			return nil
		}

		swapped, err := c.prim.CompareAndSwap(ctx, current, n)
		if err != nil {
			return classify(err)
		}
		if swapped {
			return nil
		}

		c.metrics.IncCASRetry()
		if err := c.backoff(ctx, attempt); err != nil {
			return err
		}
	}
}

// backoff sleeps for a linearly growing, capped interval.
func (c *Counter) backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt+1) * time.Millisecond
	if d > c.backoffMax {
		d = c.backoffMax
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return domain.ErrStoreUnavailable.
			WithDetailsf("counter %s: compare-and-set retries exhausted", c.name).
			WithCause(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Increment atomically adds one and returns the new value.
//
// Counters are bounded: an increment that would pass MaxSeqNum is undone and
// reported as ErrSeqNumOutOfRange, so the counter stays at MaxSeqNum until
// the session resets.
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	v, err := c.prim.AddAndGet(ctx, 1)
	if err != nil {
		return 0, classify(err)
	}
	if v > domain.MaxSeqNum {
		outOfRange := domain.ErrSeqNumOutOfRange.WithDetailsf("counter %s reached %d", c.name, v)
		if _, err := c.prim.AddAndGet(ctx, -1); err != nil {
			return 0, outOfRange.WithCause(classify(err))
		}
		return 0, outOfRange
	}
	return v, nil
}

// Reset sets the counter back to MinSeqNum.
func (c *Counter) Reset(ctx context.Context) error {
	return classify(c.prim.Reset(ctx))
}
