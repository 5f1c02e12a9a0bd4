package seqstore

import (
	"time"

	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

// Default tuning values.
const (
	DefaultOpTimeout     = 5 * time.Second
	DefaultCASBackoffMax = 20 * time.Millisecond
)

// Options configures a Factory and the stores it creates.
type Options struct {
	// OpTimeout bounds every operation whose context has no deadline.
	OpTimeout time.Duration

	// CASBackoffMax caps the linear backoff between SetNext retries.
	CASBackoffMax time.Duration

	// Logger receives provisioning and diagnostic output. Nil means the
	// logger package default.
	Logger logger.Logger

	// Metrics may be nil.
	Metrics *metric.Registry

	// Now is the clock used for creation times. Nil means time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.CASBackoffMax <= 0 {
		o.CASBackoffMax = DefaultCASBackoffMax
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
