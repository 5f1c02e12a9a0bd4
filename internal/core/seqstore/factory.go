package seqstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/telemetry/tracer"
)

// Factory provisions SessionStores on a shared Backend.
//
// Create is idempotent: any number of processes may create stores for the
// same session concurrently and they converge on the same resources.
type Factory struct {
	backend Backend
	opts    Options
}

// NewFactory creates a Factory over backend.
func NewFactory(backend Backend, opts Options) *Factory {
	return &Factory{
		backend: backend,
		opts:    opts.withDefaults(),
	}
}

// Backend returns the substrate the factory provisions on.
func (f *Factory) Backend() Backend {
	return f.backend
}

// Create provisions the store for sid and returns it ready for use.
//
// Provisioning opens or creates the session namespace, attaches to or
// defines both counters with value 1, and records the creation time if none
// exists. Existing data is never modified.
func (f *Factory) Create(ctx context.Context, sid domain.SessionID) (_ *SessionStore, err error) {
	if err := sid.Validate(); err != nil {
		return nil, domain.ErrConfiguration.WithDetailsf("session id %q", sid.String()).WithCause(err)
	}

	start := time.Now()
	ctx, cancel := withTimeout(ctx, f.opts.OpTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "seqstore.create", attribute.String("session_id", sid.String()))
	defer func() {
		tracer.End(span, err)
		f.opts.Metrics.ObserveStoreOp("create", start, err)
	}()

	ns, err := f.backend.Namespace(ctx, sid.NamespaceName())
	if err != nil {
		return nil, classify(err)
	}

	sender, err := f.counter(ctx, sid.CounterName(domain.RoleSender))
	if err != nil {
		return nil, err
	}
	target, err := f.counter(ctx, sid.CounterName(domain.RoleTarget))
	if err != nil {
		return nil, err
	}

	log := NewMessageLog(ns)
	created, err := log.InitCreationTime(ctx, f.opts.Now())
	if err != nil {
		return nil, err
	}

	store := &SessionStore{
		sid:     sid,
		sender:  sender,
		target:  target,
		log:     log,
		opts:    f.opts,
		logger:  f.opts.Logger.With("session_id", sid.String()),
		metrics: f.opts.Metrics,
	}

	f.opts.Metrics.IncStoresOpen()
	f.opts.Logger.Info("session store provisioned",
		"session_id", sid.String(),
		"namespace", sid.NamespaceName(),
		"creation_time", created.Format(time.RFC3339Nano))

	return store, nil
}

func (f *Factory) counter(ctx context.Context, name string) (*Counter, error) {
	prim, err := f.backend.Counter(ctx, name, domain.MinSeqNum)
	if err != nil {
		return nil, classify(err)
	}
	return NewCounter(name, prim, f.opts.CASBackoffMax, f.opts.Metrics), nil
}
