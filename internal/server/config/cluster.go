package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/yndnr/seqmesh-go/internal/backend"
)

// ToBackendConfig maps the storage and cluster sections onto the substrate
// configuration. An empty cluster.node_id is generated and logged.
func ToBackendConfig(cfg *ServerConfig, logger *slog.Logger) (backend.Config, error) {
	if cfg == nil {
		return backend.Config{}, fmt.Errorf("server config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	st := cfg.Storage
	driver := strings.ToLower(st.Driver)
	switch driver {
	case backend.DriverMemory:
		return backend.Config{Driver: driver}, nil

	case backend.DriverBadger:
		sync := st.SyncWrites
		return backend.Config{
			Driver: driver,
			Badger: backend.BadgerConfig{
				Dir:        st.DataDir,
				SyncWrites: &sync,
				GCInterval: st.GCInterval,
			},
		}, nil

	case backend.DriverRaft:
		c := cfg.Cluster
		nodeID := c.NodeID
		if nodeID == "" {
			generated, err := generateNodeID()
			if err != nil {
				return backend.Config{}, fmt.Errorf("generate node id: %w", err)
			}
			nodeID = generated
			logger.Info("generated cluster node id", "node_id", nodeID)
		}
		dataDir := c.DataDir
		if dataDir == "" {
			dataDir = filepath.Join(st.DataDir, "raft")
		}

		return backend.Config{
			Driver: driver,
			Raft: backend.RaftConfig{
				NodeID:     nodeID,
				BindAddr:   c.RaftAddr,
				Advertise:  c.RaftAdvertise,
				DataDir:    dataDir,
				Bootstrap:  c.Bootstrap,
				Gossip:     c.GossipAddr,
				Seeds:      c.Seeds,
				ServeAddr:  cfg.Server.RESP.Addr,
				LeaderWait: c.LeaderWait,
			},
		}, nil
	}

	return backend.Config{}, fmt.Errorf("storage.driver %q is not served by seqmesh-server", st.Driver)
}

// generateNodeID returns "smnode-" followed by 16 hex characters.
func generateNodeID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "smnode-" + hex.EncodeToString(buf), nil
}
