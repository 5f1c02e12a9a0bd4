package config

import "time"

// ServerConfig is the root configuration of seqmesh-server.
type ServerConfig struct {
	Server    ServerSection    `koanf:"server"`
	Storage   StorageSection   `koanf:"storage"`
	Cluster   ClusterSection   `koanf:"cluster"`
	Security  SecuritySection  `koanf:"security"`
	Log       LogSection       `koanf:"log"`
	Telemetry TelemetrySection `koanf:"telemetry"`
}

// ServerSection configures the listeners.
type ServerSection struct {
	RESP RESPConfig `koanf:"resp"`
	HTTP HTTPConfig `koanf:"http"`
}

// RESPConfig configures the store protocol listener.
type RESPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
	// TLSAddr enables a TLS listener. Requires security.tls_cert_file and
	// security.tls_key_file.
	TLSAddr string `koanf:"tls_addr"`

	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"`
	// OpTimeout bounds each command against the substrate.
	OpTimeout time.Duration `koanf:"op_timeout"`

	// RateLimit is commands per second per client IP. Zero disables it.
	RateLimit int `koanf:"rate_limit"`
	RateBurst int `koanf:"rate_burst"`
}

// HTTPConfig configures the admin listener (health, metrics, cluster
// status, backup).
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// StorageSection selects the substrate this server serves.
type StorageSection struct {
	// Driver is memory, badger or raft.
	Driver  string `koanf:"driver"`
	DataDir string `koanf:"data_dir"`
	// SyncWrites fsyncs every badger write. Defaults to true.
	SyncWrites bool   `koanf:"sync_writes"`
	GCInterval string `koanf:"gc_interval"`
}

// ClusterSection configures the raft driver.
type ClusterSection struct {
	// NodeID identifies this node. Generated at startup when empty.
	NodeID string `koanf:"node_id"`

	// RaftAddr is the Raft TCP bind address.
	RaftAddr string `koanf:"raft_addr"`
	// RaftAdvertise is the Raft address other nodes dial, when it differs
	// from RaftAddr.
	RaftAdvertise string `koanf:"raft_advertise"`

	// GossipAddr is the memberlist host:port. Empty disables gossip, and
	// members must then be added by the leader's operator.
	GossipAddr string `koanf:"gossip_addr"`
	// Seeds are gossip addresses of existing members.
	Seeds []string `koanf:"seeds"`

	// Bootstrap starts a new single-voter cluster. Set on one node only.
	Bootstrap bool `koanf:"bootstrap"`

	// DataDir holds the Raft log and snapshots. Defaults to
	// <storage.data_dir>/raft.
	DataDir string `koanf:"data_dir"`

	// LeaderWait bounds how long a bootstrap node waits for leadership
	// before serving.
	LeaderWait time.Duration `koanf:"leader_wait"`
}

// SecuritySection configures authentication and TLS.
type SecuritySection struct {
	// AuthSecret is required from RESP clients via AUTH when set.
	AuthSecret string `koanf:"auth_secret"`

	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
	// TLSClientCAFile enables mutual TLS on the RESP TLS listener.
	TLSClientCAFile string `koanf:"tls_client_ca_file"`

	// BackupPassphrase seals admin backups when set.
	BackupPassphrase string `koanf:"backup_passphrase"`
	// BackupCipher is aes-gcm or chacha20-poly1305. Empty picks one for
	// the host.
	BackupCipher string `koanf:"backup_cipher"`
}

// LogSection configures logging. Level is reloaded when the config file
// changes.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetrySection configures tracing.
type TelemetrySection struct {
	Tracing TracingConfig `koanf:"tracing"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRatio float64 `koanf:"sample_ratio"`
}
