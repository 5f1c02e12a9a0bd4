package clusterserver

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// RaftConfig configures the Raft node.
type RaftConfig struct {
	// NodeID is the unique node identifier.
	NodeID string

	// BindAddr is the address to bind for Raft communication.
	BindAddr string

	// AdvertiseAddr is the address other nodes dial. Defaults to BindAddr.
	AdvertiseAddr string

	// DataDir is the directory for Raft data.
	DataDir string

	// Bootstrap indicates if this is the bootstrap node.
	Bootstrap bool

	// InMemory keeps the log, stable store, snapshots and transport in
	// memory. Single-process only; used by tests.
	InMemory bool

	// Logger for logging.
	Logger *slog.Logger
}

// RaftNode wraps hashicorp/raft with SeqMesh-specific configuration.
type RaftNode struct {
	raft      *raft.Raft
	transport raft.Transport
	fsm       *FSM
	config    *raft.Config
	logger    *slog.Logger

	// Stores
	logStore      raft.LogStore
	stableStore   raft.StableStore
	snapshotStore raft.SnapshotStore

	// Leader notifications
	leaderCh chan bool

	// readTerm is the term in which a barrier last completed on this node.
	// Local reads are served only while it matches the current term.
	readTerm atomic.Uint64
}

// NewRaftNode creates a new Raft node.
func NewRaftNode(cfg RaftConfig, fsm *FSM) (*RaftNode, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("raft: node_id is required")
	}
	hcl := newRaftHCLogger(cfg.Logger)

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.Logger = hcl

	// Tuning for lower latency
	raftConfig.HeartbeatTimeout = 1000 * time.Millisecond
	raftConfig.ElectionTimeout = 1000 * time.Millisecond
	raftConfig.CommitTimeout = 50 * time.Millisecond
	raftConfig.LeaderLeaseTimeout = 500 * time.Millisecond

	var (
		transport     raft.Transport
		logStore      raft.LogStore
		stableStore   raft.StableStore
		snapshotStore raft.SnapshotStore
	)

	if cfg.InMemory {
		raftConfig.HeartbeatTimeout = 100 * time.Millisecond
		raftConfig.ElectionTimeout = 100 * time.Millisecond
		raftConfig.LeaderLeaseTimeout = 100 * time.Millisecond
		raftConfig.CommitTimeout = 5 * time.Millisecond

		_, transport = raft.NewInmemTransport(raft.ServerAddress(cfg.NodeID))
		store := raft.NewInmemStore()
		logStore, stableStore = store, store
		snapshotStore = raft.NewInmemSnapshotStore()
	} else {
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("raft: data_dir is required")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}

		advertise := cfg.AdvertiseAddr
		if advertise == "" {
			advertise = cfg.BindAddr
		}
		addr, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return nil, fmt.Errorf("resolve advertise addr: %w", err)
		}

		tcp, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, addr, 3, 10*time.Second, hcl)
		if err != nil {
			return nil, fmt.Errorf("create transport: %w", err)
		}
		transport = tcp

		bolt, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
		if err != nil {
			tcp.Close()
			return nil, fmt.Errorf("create log store: %w", err)
		}
		logStore = bolt

		stable, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
		if err != nil {
			bolt.Close()
			tcp.Close()
			return nil, fmt.Errorf("create stable store: %w", err)
		}
		stableStore = stable

		snapshotStore, err = raft.NewFileSnapshotStoreWithLogger(cfg.DataDir, 3, hcl)
		if err != nil {
			stable.Close()
			bolt.Close()
			tcp.Close()
			return nil, fmt.Errorf("create snapshot store: %w", err)
		}
	}

	leaderCh := make(chan bool, 10)
	raftConfig.NotifyCh = leaderCh

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		closeStores(logStore, stableStore, transport)
		return nil, fmt.Errorf("create raft: %w", err)
	}

	node := &RaftNode{
		raft:          r,
		transport:     transport,
		fsm:           fsm,
		config:        raftConfig,
		logger:        cfg.Logger,
		logStore:      logStore,
		stableStore:   stableStore,
		snapshotStore: snapshotStore,
		leaderCh:      leaderCh,
	}

	if cfg.Bootstrap {
		hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("check existing state: %w", err)
		}

		// A restarted bootstrap node already has a configuration.
		if !hasState {
			configuration := raft.Configuration{
				Servers: []raft.Server{
					{
						ID:      raft.ServerID(cfg.NodeID),
						Address: transport.LocalAddr(),
					},
				},
			}

			if err := r.BootstrapCluster(configuration).Error(); err != nil {
				node.Close()
				return nil, fmt.Errorf("bootstrap cluster: %w", err)
			}

			cfg.Logger.Info("raft cluster bootstrapped",
				"node_id", cfg.NodeID,
				"addr", transport.LocalAddr())
		}
	}

	cfg.Logger.Info("raft node created",
		"node_id", cfg.NodeID,
		"addr", transport.LocalAddr(),
		"bootstrap", cfg.Bootstrap,
		"in_memory", cfg.InMemory)

	return node, nil
}

// Apply replicates data and returns the FSM response once it is committed
// and applied locally.
//
// ctx bounds the wait. When ctx expires first the command may still commit
// later; the caller cannot tell.
func (n *RaftNode) Apply(ctx context.Context, data []byte) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	f := n.raft.Apply(data, timeout)
	if err := wait(ctx, f); err != nil {
		return nil, err
	}
	return f.Response(), nil
}

// VerifyLeader confirms this node is still the leader by contacting a
// quorum, after making sure the FSM has applied everything committed before
// this term. Reads served after it are linearizable.
func (n *RaftNode) VerifyLeader(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.ReadBarrier(ctx); err != nil {
		return err
	}
	return wait(ctx, n.raft.VerifyLeader())
}

// ReadBarrier blocks until every entry committed by earlier leaders is
// applied to the local FSM. A new leader can hold a commit index behind
// what its predecessor acknowledged, so it must not read its FSM before
// this. The barrier runs once per term.
func (n *RaftNode) ReadBarrier(ctx context.Context) error {
	term := n.raft.CurrentTerm()
	if n.readTerm.Load() == term {
		return nil
	}

	timeout := 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := wait(ctx, n.raft.Barrier(timeout)); err != nil {
		return err
	}
	n.readTerm.Store(term)
	return nil
}

// Readable reports whether local reads are allowed in the current term.
func (n *RaftNode) Readable() bool {
	return n.readTerm.Load() == n.raft.CurrentTerm()
}

// wait blocks until f completes or ctx is done.
func wait(ctx context.Context, f raft.Future) error {
	done := make(chan error, 1)
	go func() { done <- f.Error() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsLeader returns true if this node is the Raft leader.
func (n *RaftNode) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// Leader returns the current leader ID and Raft address.
func (n *RaftNode) Leader() (id, addr string) {
	a, i := n.raft.LeaderWithID()
	return string(i), string(a)
}

// LocalAddr returns the Raft transport address of this node.
func (n *RaftNode) LocalAddr() string {
	return string(n.transport.LocalAddr())
}

// AddVoter adds a voting member to the Raft cluster.
func (n *RaftNode) AddVoter(nodeID, addr string, timeout time.Duration) error {
	f := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster.
func (n *RaftNode) RemoveServer(nodeID string, timeout time.Duration) error {
	f := n.raft.RemoveServer(raft.ServerID(nodeID), 0, timeout)
	if err := f.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// Snapshot triggers a snapshot.
func (n *RaftNode) Snapshot() error {
	f := n.raft.Snapshot()
	if err := f.Error(); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// GetConfiguration returns the current Raft configuration.
func (n *RaftNode) GetConfiguration() (*raft.Configuration, error) {
	f := n.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	cfg := f.Configuration()
	return &cfg, nil
}

// LeaderCh returns a channel that notifies on leader changes.
func (n *RaftNode) LeaderCh() <-chan bool {
	return n.leaderCh
}

// Stats returns Raft statistics.
func (n *RaftNode) Stats() map[string]string {
	return n.raft.Stats()
}

// Close gracefully shuts down the Raft node.
func (n *RaftNode) Close() error {
	n.logger.Info("shutting down raft node")

	// Shutdown Raft (this will flush pending writes)
	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error("raft shutdown failed", "error", err)
	}

	closeStores(n.logStore, n.stableStore, n.transport)

	n.logger.Info("raft node shutdown complete")
	return nil
}

// closeStores closes whichever of the given stores hold resources.
// FileSnapshotStore and the in-memory stores have nothing to close.
func closeStores(logStore raft.LogStore, stableStore raft.StableStore, transport raft.Transport) {
	if s, ok := stableStore.(*raftboltdb.BoltStore); ok {
		s.Close()
	}
	if s, ok := logStore.(*raftboltdb.BoltStore); ok {
		s.Close()
	}
	if t, ok := transport.(raft.WithClose); ok {
		t.Close()
	}
}

// raftHCLogger adapts slog.Logger to hashicorp/go-hclog.Logger interface.
type raftHCLogger struct {
	logger *slog.Logger
	name   string
	args   []any
}

func newRaftHCLogger(logger *slog.Logger) *raftHCLogger {
	return &raftHCLogger{logger: logger.With("component", "raft"), name: "raft"}
}

func (l *raftHCLogger) Log(level hclog.Level, msg string, args ...any) {
	switch level {
	case hclog.Trace, hclog.Debug:
		l.logger.Debug(msg, args...)
	case hclog.Info:
		l.logger.Info(msg, args...)
	case hclog.Warn:
		l.logger.Warn(msg, args...)
	case hclog.Error:
		l.logger.Error(msg, args...)
	default:
		l.logger.Info(msg, args...)
	}
}

func (l *raftHCLogger) Trace(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *raftHCLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *raftHCLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *raftHCLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *raftHCLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *raftHCLogger) enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

func (l *raftHCLogger) IsTrace() bool { return false }
func (l *raftHCLogger) IsDebug() bool { return l.enabled(slog.LevelDebug) }
func (l *raftHCLogger) IsInfo() bool  { return l.enabled(slog.LevelInfo) }
func (l *raftHCLogger) IsWarn() bool  { return l.enabled(slog.LevelWarn) }
func (l *raftHCLogger) IsError() bool { return l.enabled(slog.LevelError) }

func (l *raftHCLogger) ImpliedArgs() []any { return l.args }

func (l *raftHCLogger) With(args ...any) hclog.Logger {
	return &raftHCLogger{
		logger: l.logger.With(args...),
		name:   l.name,
		args:   append(append([]any{}, l.args...), args...),
	}
}

func (l *raftHCLogger) Name() string { return l.name }

func (l *raftHCLogger) Named(name string) hclog.Logger {
	return l.ResetNamed(l.name + "." + name)
}

func (l *raftHCLogger) ResetNamed(name string) hclog.Logger {
	return &raftHCLogger{logger: l.logger.With("subsystem", name), name: name, args: l.args}
}

func (l *raftHCLogger) SetLevel(level hclog.Level) {}

func (l *raftHCLogger) GetLevel() hclog.Level {
	switch {
	case l.IsDebug():
		return hclog.Debug
	case l.IsInfo():
		return hclog.Info
	case l.IsWarn():
		return hclog.Warn
	default:
		return hclog.Error
	}
}

func (l *raftHCLogger) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return slog.NewLogLogger(l.logger.Handler(), slog.LevelInfo)
}

func (l *raftHCLogger) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return l.StandardLogger(opts).Writer()
}
