package backend

import (
	"net"
	"strings"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
)

// Driver names.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
	DriverRaft   = "raft"
	DriverRemote = "remote"
)

// Config selects and parameterises a substrate.
type Config struct {
	Driver string       `koanf:"driver"`
	Badger BadgerConfig `koanf:"badger"`
	Raft   RaftConfig   `koanf:"raft"`
	Remote RemoteConfig `koanf:"remote"`

	// Sessions gives individual sessions a complete substrate config of
	// their own. Session ids contain dots, so this is a list rather than a
	// map keyed by id. Nested Sessions are ignored.
	Sessions []SessionOverride `koanf:"sessions"`
}

// SessionOverride is the substrate for one session id.
type SessionOverride struct {
	Session string `koanf:"session"`
	Config  `koanf:",squash"`
}

// BadgerConfig configures the badger driver.
type BadgerConfig struct {
	Dir        string `koanf:"dir"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites *bool  `koanf:"sync_writes"`
	GCInterval string `koanf:"gc_interval"`
}

// RaftConfig configures the raft driver.
type RaftConfig struct {
	NodeID    string   `koanf:"node_id"`
	BindAddr  string   `koanf:"bind_addr"`
	Advertise string   `koanf:"advertise"`
	DataDir   string   `koanf:"data_dir"`
	Bootstrap bool     `koanf:"bootstrap"`
	Gossip    string   `koanf:"gossip_addr"`
	Seeds     []string `koanf:"seeds"`
	// ServeAddr is the RESP address followers hand to clients in NOTLEADER.
	ServeAddr string `koanf:"serve_addr"`
	InMemory  bool   `koanf:"in_memory"`
	// LeaderWait bounds how long Open waits for a leader on a bootstrap
	// node. Zero means no wait.
	LeaderWait time.Duration `koanf:"leader_wait"`
}

// RemoteConfig configures the remote driver.
type RemoteConfig struct {
	Addr        string        `koanf:"addr"`
	Secret      string        `koanf:"secret"`
	PoolSize    int           `koanf:"pool_size"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	OpTimeout   time.Duration `koanf:"op_timeout"`
	TLS         TLSConfig     `koanf:"tls"`
}

// TLSConfig configures client TLS for the remote driver.
type TLSConfig struct {
	Enabled    bool   `koanf:"enabled"`
	CAFile     string `koanf:"ca_file"`
	ServerName string `koanf:"server_name"`
	CertFile   string `koanf:"cert_file"`
	KeyFile    string `koanf:"key_file"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{Driver: DriverMemory}
}

// ForSession returns the configuration that applies to sid.
func (c Config) ForSession(sid string) Config {
	for _, o := range c.Sessions {
		if o.Session == sid {
			o.Config.Sessions = nil
			return o.Config
		}
	}
	c.Sessions = nil
	return c
}

// Verify checks that the selected driver has what it needs, including
// every per-session override.
func (c Config) Verify() error {
	if err := c.verifyDriver(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Sessions))
	for _, o := range c.Sessions {
		sid := o.Session
		if _, err := domain.ParseSessionID(sid); err != nil {
			return domain.ErrConfiguration.WithDetailsf("sessions: %q is not a session id", sid).WithCause(err)
		}
		if err := o.verifyDriver(); err != nil {
			return domain.ErrConfiguration.WithDetailsf("sessions[%s]", sid).WithCause(err)
		}
		if _, dup := seen[sid]; dup {
			return domain.ErrConfiguration.WithDetailsf("sessions: %s listed twice", sid)
		}
		seen[sid] = struct{}{}
	}
	return nil
}

func (c Config) verifyDriver() error {
	switch strings.ToLower(c.Driver) {
	case DriverMemory, "":
		return nil
	case DriverBadger:
		if c.Badger.Dir == "" && !c.Badger.InMemory {
			return domain.ErrConfiguration.WithDetails("badger.dir is required")
		}
		if c.Badger.GCInterval != "" {
			if _, err := time.ParseDuration(c.Badger.GCInterval); err != nil {
				return domain.ErrConfiguration.WithDetailsf("badger.gc_interval %q", c.Badger.GCInterval).WithCause(err)
			}
		}
	case DriverRaft:
		r := c.Raft
		if r.NodeID == "" {
			return domain.ErrConfiguration.WithDetails("raft.node_id is required")
		}
		if !r.InMemory {
			if r.DataDir == "" {
				return domain.ErrConfiguration.WithDetails("raft.data_dir is required")
			}
			if err := hostPort("raft.bind_addr", r.BindAddr); err != nil {
				return err
			}
		}
		if r.Gossip != "" {
			if err := hostPort("raft.gossip_addr", r.Gossip); err != nil {
				return err
			}
		}
	case DriverRemote:
		if err := hostPort("remote.addr", c.Remote.Addr); err != nil {
			return err
		}
	default:
		return domain.ErrConfiguration.WithDetailsf("unknown driver %q", c.Driver)
	}
	return nil
}

func hostPort(field, addr string) error {
	if addr == "" {
		return domain.ErrConfiguration.WithDetailsf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return domain.ErrConfiguration.WithDetailsf("%s %q", field, addr).WithCause(err)
	}
	return nil
}
