package clusterserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

const (
	membershipTimeout = 10 * time.Second
	reconcileInterval = 5 * time.Second
	leaderPoll        = 20 * time.Millisecond
)

// NodeConfig configures a cluster node.
type NodeConfig struct {
	NodeID string

	// RaftAddr is the Raft transport bind address; RaftAdvertise, if set,
	// is the address peers dial.
	RaftAddr      string
	RaftAdvertise string
	DataDir       string
	Bootstrap     bool

	// GossipAddr is host:port for memberlist. Empty disables gossip, which
	// leaves the node a single-member cluster.
	GossipAddr string
	Seeds      []string

	// ServeAddr is the client-facing address handed out in NOTLEADER
	// redirects.
	ServeAddr string

	// InMemory runs Raft with in-memory stores and transport and disables
	// gossip.
	InMemory bool

	Logger  *slog.Logger
	Metrics *metric.Registry
}

type memberEvent struct {
	nodeID string
	meta   NodeMeta
	leave  bool
}

// Node is one member of a SeqMesh cluster: a Raft replica of the session
// store state plus gossip membership. The leader adds gossip members as
// voters and records their serve addresses in the replicated state.
type Node struct {
	cfg       NodeConfig
	fsm       *FSM
	raft      *RaftNode
	discovery *Discovery
	backend   *Backend
	logger    *slog.Logger

	events chan memberEvent
	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// StartNode creates the Raft node, joins the gossip cluster and starts the
// membership loop.
func StartNode(cfg NodeConfig) (*Node, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NodeID == "" {
		return nil, domain.ErrConfiguration.WithDetails("cluster node_id is required")
	}

	logger := cfg.Logger.With("node_id", cfg.NodeID)
	fsm := NewFSM(logger.With("component", "fsm"))

	rn, err := NewRaftNode(RaftConfig{
		NodeID:        cfg.NodeID,
		BindAddr:      cfg.RaftAddr,
		AdvertiseAddr: cfg.RaftAdvertise,
		DataDir:       cfg.DataDir,
		Bootstrap:     cfg.Bootstrap,
		InMemory:      cfg.InMemory,
		Logger:        logger,
	}, fsm)
	if err != nil {
		return nil, domain.ErrConfiguration.WithCause(err)
	}

	n := &Node{
		cfg:     cfg,
		fsm:     fsm,
		raft:    rn,
		backend: NewBackend(rn, fsm),
		logger:  logger,
		events:  make(chan memberEvent, 64),
		stopCh:  make(chan struct{}),
	}

	if cfg.GossipAddr != "" && !cfg.InMemory {
		host, portStr, err := net.SplitHostPort(cfg.GossipAddr)
		if err != nil {
			rn.Close()
			return nil, domain.ErrConfiguration.WithDetailsf("gossip address %q", cfg.GossipAddr).WithCause(err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			rn.Close()
			return nil, domain.ErrConfiguration.WithDetailsf("gossip port %q", portStr).WithCause(err)
		}

		d, err := NewDiscovery(DiscoveryConfig{
			NodeID:    cfg.NodeID,
			BindAddr:  host,
			BindPort:  port,
			Meta:      NodeMeta{RaftAddr: rn.LocalAddr(), ServeAddr: cfg.ServeAddr},
			SeedNodes: cfg.Seeds,
			OnJoin:    n.onJoin,
			OnLeave:   n.onLeave,
			Logger:    logger.With("component", "discovery"),
		})
		if err != nil {
			rn.Close()
			return nil, domain.ErrStoreUnavailable.WithCause(err)
		}
		n.discovery = d
	}

	n.wg.Add(1)
	go n.run()

	return n, nil
}

// Backend returns the replicated seqstore.Backend served by this node.
func (n *Node) Backend() *Backend {
	return n.backend
}

// FSM returns the node's state machine.
func (n *Node) FSM() *FSM {
	return n.fsm
}

// Raft returns the node's Raft wrapper.
func (n *Node) Raft() *RaftNode {
	return n.raft
}

// IsLeader reports whether this node currently leads the cluster.
func (n *Node) IsLeader() bool {
	return n.raft.IsLeader()
}

// WaitForLeader blocks until a leader is known or ctx is done.
func (n *Node) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(leaderPoll)
	defer ticker.Stop()

	for {
		if id, _ := n.raft.Leader(); id != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return domain.ErrStoreUnavailable.WithDetails("no cluster leader").WithCause(ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close leaves the gossip cluster and shuts Raft down.
func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.stopCh)
		n.wg.Wait()

		if n.discovery != nil {
			if lerr := n.discovery.Leave(); lerr != nil {
				n.logger.Warn("gossip leave failed", "error", lerr)
			}
			err = n.discovery.Shutdown()
		}
		if cerr := n.raft.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (n *Node) onJoin(nodeID string, meta NodeMeta) {
	n.enqueue(memberEvent{nodeID: nodeID, meta: meta})
}

func (n *Node) onLeave(nodeID string) {
	n.enqueue(memberEvent{nodeID: nodeID, leave: true})
}

// enqueue never blocks the gossip goroutine. A dropped event is picked up
// by the next reconcile.
func (n *Node) enqueue(ev memberEvent) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("membership event dropped", "member", ev.nodeID, "leave", ev.leave)
	}
}

func (n *Node) run() {
	defer n.wg.Done()

	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return

		case isLeader := <-n.raft.LeaderCh():
			n.cfg.Metrics.SetLeader(isLeader)
			if isLeader {
				n.logger.Info("became cluster leader")
				n.readBarrier()
				n.reconcile()
			} else {
				n.logger.Info("lost cluster leadership")
			}

		case ev := <-n.events:
			if !n.raft.IsLeader() {
				continue
			}
			if ev.leave {
				n.removeMember(ev.nodeID)
			} else {
				n.addMember(Member{NodeID: ev.nodeID, RaftAddr: ev.meta.RaftAddr, ServeAddr: ev.meta.ServeAddr})
			}

		case <-ticker.C:
			if n.discovery != nil {
				n.cfg.Metrics.SetMembers(n.discovery.NumMembers())
			} else {
				n.cfg.Metrics.SetMembers(1)
			}
			if n.raft.IsLeader() {
				n.reconcile()
			}
		}
	}
}

// readBarrier brings the FSM up to date with the log right after winning an
// election so the first reads do not pay for it.
func (n *Node) readBarrier() {
	ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
	defer cancel()
	if err := n.raft.ReadBarrier(ctx); err != nil {
		n.logger.Warn("leader read barrier failed", "error", err)
	}
}

// reconcile makes the Raft configuration and the recorded members match
// what gossip reports. Only the leader calls it.
func (n *Node) reconcile() {
	self := Member{NodeID: n.cfg.NodeID, RaftAddr: n.raft.LocalAddr(), ServeAddr: n.cfg.ServeAddr}
	if m, ok := n.fsm.Member(self.NodeID); !ok || m != self {
		n.recordMember(self)
	}

	if n.discovery == nil {
		return
	}

	alive := n.discovery.Members()
	for id, meta := range alive {
		if id == self.NodeID || meta.RaftAddr == "" {
			continue
		}
		m := Member{NodeID: id, RaftAddr: meta.RaftAddr, ServeAddr: meta.ServeAddr}
		if cur, ok := n.fsm.Member(id); !ok || cur != m {
			n.addMember(m)
		}
	}

	cfg, err := n.raft.GetConfiguration()
	if err != nil {
		n.logger.Warn("read raft configuration failed", "error", err)
		return
	}
	for _, srv := range cfg.Servers {
		id := string(srv.ID)
		if id == self.NodeID {
			continue
		}
		if _, ok := alive[id]; !ok {
			n.removeMember(id)
		}
	}
}

func (n *Node) addMember(m Member) {
	if err := n.raft.AddVoter(m.NodeID, m.RaftAddr, membershipTimeout); err != nil {
		n.logger.Warn("add voter failed", "member", m.NodeID, "raft_addr", m.RaftAddr, "error", err)
		return
	}
	n.recordMember(m)
}

func (n *Node) removeMember(nodeID string) {
	if nodeID == n.cfg.NodeID {
		return
	}
	if err := n.raft.RemoveServer(nodeID, membershipTimeout); err != nil {
		n.logger.Warn("remove server failed", "member", nodeID, "error", err)
		return
	}
	if _, ok := n.fsm.Member(nodeID); ok {
		ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
		defer cancel()
		if _, err := n.backend.apply(ctx, &Command{Type: CmdMemberLeave, Name: nodeID}); err != nil {
			n.logger.Warn("record member leave failed", "member", nodeID, "error", err)
		}
	}
}

func (n *Node) recordMember(m Member) {
	ctx, cancel := context.WithTimeout(context.Background(), membershipTimeout)
	defer cancel()

	member := m
	if _, err := n.backend.apply(ctx, &Command{Type: CmdMemberJoin, Member: &member}); err != nil {
		if errors.Is(err, domain.ErrNotLeader) {
			return
		}
		n.logger.Warn("record member failed", "member", m.NodeID, "error", err)
	}
}

// Status summarises the node for admin endpoints.
type Status struct {
	NodeID   string   `json:"node_id"`
	State    string   `json:"state"`
	LeaderID string   `json:"leader_id"`
	Leader   string   `json:"leader_serve_addr"`
	// Readable is true on a leader whose FSM has caught up with the log.
	Readable bool     `json:"readable"`
	Members  []Member `json:"members"`
}

// Status returns the node's current view of the cluster.
func (n *Node) Status() Status {
	id, _ := n.raft.Leader()
	state := raft.Follower.String()
	if s, ok := n.raft.Stats()["state"]; ok {
		state = s
	}
	return Status{
		NodeID:   n.cfg.NodeID,
		State:    state,
		LeaderID: id,
		Leader:   n.backend.LeaderServeAddr(),
		Readable: n.raft.IsLeader() && n.raft.Readable(),
		Members:  n.fsm.Members(),
	}
}
