package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/seqmesh-go/internal/server/clusterserver"
	"github.com/yndnr/seqmesh-go/internal/storage"
	"github.com/yndnr/seqmesh-go/internal/storage/memory"
	"github.com/yndnr/seqmesh-go/internal/storage/remote"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

// Handle is an open substrate.
type Handle struct {
	// Backend is what seqstore.Factory consumes.
	Backend seqstore.Backend
	// Driver is the driver that produced Backend.
	Driver string

	// Engine is set for the badger driver.
	Engine *storage.BadgerEngine
	// Node is set for the raft driver.
	Node *clusterserver.Node
	// Remote is set for the remote driver.
	Remote *remote.Backend

	closers []func() error
}

// Close releases the substrate.
func (h *Handle) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

// Option adjusts Open.
type Option func(*openOptions)

type openOptions struct {
	metrics *metric.Registry
}

// WithMetrics registers substrate metrics with reg.
func WithMetrics(reg *metric.Registry) Option {
	return func(o *openOptions) { o.metrics = reg }
}

// Open verifies cfg and opens the substrate it names. Configuration
// problems, including a driver that fails to start, are ErrConfiguration.
func Open(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Handle, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.verifyDriver(); err != nil {
		return nil, err
	}

	driver := strings.ToLower(cfg.Driver)
	if driver == "" {
		driver = DriverMemory
	}
	logger = logger.With("driver", driver)

	var (
		h   *Handle
		err error
	)
	switch driver {
	case DriverMemory:
		b := memory.New()
		h = &Handle{Backend: b, closers: []func() error{b.Close}}
	case DriverBadger:
		h, err = openBadger(cfg.Badger, logger, o)
	case DriverRaft:
		h, err = openRaft(ctx, cfg.Raft, logger, o)
	case DriverRemote:
		h, err = openRemote(cfg.Remote, logger)
	}
	if err != nil {
		return nil, err
	}
	h.Driver = driver

	logger.Info("substrate opened")
	return h, nil
}

// OpenForSession opens the substrate configured for sid.
func OpenForSession(ctx context.Context, cfg Config, sid domain.SessionID, logger *slog.Logger, opts ...Option) (*Handle, error) {
	return Open(ctx, cfg.ForSession(sid.String()), logger, opts...)
}

func openBadger(c BadgerConfig, logger *slog.Logger, o openOptions) (*Handle, error) {
	kv := storage.DefaultKVConfig(c.Dir)
	kv.InMemory = c.InMemory
	if c.SyncWrites != nil {
		kv.Badger.SyncWrites = *c.SyncWrites
	}
	if c.GCInterval != "" {
		kv.Badger.GCInterval = c.GCInterval
	}

	engine, err := storage.NewBadgerEngine(kv, logger)
	if err != nil {
		return nil, domain.ErrConfiguration.WithDetails("open badger").WithCause(err)
	}
	if o.metrics != nil {
		engine.RegisterMetrics(o.metrics.Prometheus())
	}

	b := storage.NewKVBackend(engine)
	return &Handle{Backend: b, Engine: engine, closers: []func() error{b.Close}}, nil
}

func openRaft(ctx context.Context, c RaftConfig, logger *slog.Logger, o openOptions) (*Handle, error) {
	node, err := clusterserver.StartNode(clusterserver.NodeConfig{
		NodeID:        c.NodeID,
		RaftAddr:      c.BindAddr,
		RaftAdvertise: c.Advertise,
		DataDir:       c.DataDir,
		Bootstrap:     c.Bootstrap,
		GossipAddr:    c.Gossip,
		Seeds:         c.Seeds,
		ServeAddr:     c.ServeAddr,
		InMemory:      c.InMemory,
		Logger:        logger,
		Metrics:       o.metrics,
	})
	if err != nil {
		return nil, err
	}

	if c.Bootstrap && c.LeaderWait > 0 {
		wctx, cancel := context.WithTimeout(ctx, c.LeaderWait)
		err := node.WaitForLeader(wctx)
		cancel()
		if err != nil {
			node.Close()
			return nil, err
		}
	}

	return &Handle{Backend: node.Backend(), Node: node, closers: []func() error{node.Close}}, nil
}

func openRemote(c RemoteConfig, logger *slog.Logger) (*Handle, error) {
	rc := remote.Config{
		Addr:        c.Addr,
		Secret:      c.Secret,
		PoolSize:    c.PoolSize,
		DialTimeout: c.DialTimeout,
		OpTimeout:   c.OpTimeout,
		Logger:      logger,
	}
	if c.TLS.Enabled {
		tc, err := tlsroots.ClientConfig(tlsroots.ClientOptions{
			CAFile:     c.TLS.CAFile,
			ServerName: c.TLS.ServerName,
			CertFile:   c.TLS.CertFile,
			KeyFile:    c.TLS.KeyFile,
		})
		if err != nil {
			return nil, domain.ErrConfiguration.WithDetails("remote tls").WithCause(err)
		}
		rc.TLSConfig = tc
	}

	b, err := remote.New(rc)
	if err != nil {
		return nil, err
	}
	return &Handle{Backend: b, Remote: b, closers: []func() error{b.Close}}, nil
}
