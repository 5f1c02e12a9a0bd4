package clusterserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"
)

// NodeMeta is the gossip metadata every node advertises.
type NodeMeta struct {
	RaftAddr  string `json:"raft_addr"`
	ServeAddr string `json:"serve_addr"`
}

// Discovery handles node discovery and membership using Gossip protocol.
type Discovery struct {
	config     *memberlist.Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger

	mu       sync.Mutex
	shutdown bool

	// Callbacks
	onJoin  func(nodeID string, meta NodeMeta)
	onLeave func(nodeID string)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique node identifier.
	NodeID string

	// BindAddr is the address to bind for gossip communication.
	BindAddr string

	// BindPort is the port to bind for gossip communication.
	BindPort int

	// Meta is advertised to other nodes.
	Meta NodeMeta

	// SeedNodes are the initial nodes to join.
	SeedNodes []string

	// OnJoin and OnLeave are invoked from memberlist's event goroutine and
	// must not block.
	OnJoin  func(nodeID string, meta NodeMeta)
	OnLeave func(nodeID string)

	// Logger for logging.
	Logger *slog.Logger
}

// NewDiscovery creates a new discovery instance and joins the seed nodes.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	meta, err := json.Marshal(cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode node meta: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node meta is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{meta: meta}

	// Route memberlist's logger through slog
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger.With("component", "gossip")}

	d := &Discovery{
		config:  mlConfig,
		logger:  cfg.Logger,
		onJoin:  cfg.OnJoin,
		onLeave: cfg.OnLeave,
	}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster",
			"node_id", cfg.NodeID,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)",
			"node_id", cfg.NodeID)
	}

	return d, nil
}

// Members returns the alive members with their metadata, keyed by node ID.
func (d *Discovery) Members() map[string]NodeMeta {
	out := make(map[string]NodeMeta)
	if d.memberList == nil {
		return out
	}
	for _, n := range d.memberList.Members() {
		out[n.Name] = d.decodeMeta(n)
	}
	return out
}

// NumMembers returns the number of alive members.
func (d *Discovery) NumMembers() int {
	if d.memberList == nil {
		return 0
	}
	return d.memberList.NumMembers()
}

// LocalAddr returns the gossip address of this node.
func (d *Discovery) LocalAddr() string {
	n := d.memberList.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// Leave gracefully leaves the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}

	// Broadcast leave notification
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}

	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops the discovery mechanism.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shutdown || d.memberList == nil {
		return nil
	}
	d.shutdown = true

	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}

	d.logger.Info("discovery shutdown complete")
	return nil
}

func (d *Discovery) decodeMeta(node *memberlist.Node) NodeMeta {
	var meta NodeMeta
	if err := json.Unmarshal(node.Meta, &meta); err != nil || meta.RaftAddr == "" {
		gossipAddr := net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
		d.logger.Warn("node without usable metadata",
			"node_id", node.Name,
			"gossip_addr", gossipAddr,
			"error", err)
	}
	return meta
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	meta := e.discovery.decodeMeta(node)

	e.discovery.logger.Info("node joined",
		"node_id", node.Name,
		"raft_addr", meta.RaftAddr,
		"serve_addr", meta.ServeAddr)

	if e.discovery.onJoin != nil && meta.RaftAddr != "" {
		e.discovery.onJoin(node.Name, meta)
	}
}

// NotifyLeave is called when a node leaves.
func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("node left",
		"node_id", node.Name,
		"addr", node.Addr.String())

	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

// NotifyUpdate is called when a node is updated.
func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated",
		"node_id", node.Name,
		"addr", node.Addr.String())
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// metadataDelegate provides node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node.
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return nil
	}
	return m.meta
}

// NotifyMsg is called when a user message is received (not used).
func (m *metadataDelegate) NotifyMsg([]byte) {}

// GetBroadcasts is called to get broadcasts to send (not used).
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState returns the local state for synchronization (not used).
func (m *metadataDelegate) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState merges remote state (not used).
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {
}
