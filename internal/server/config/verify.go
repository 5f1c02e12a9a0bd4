package config

import (
	"net"
	"os"
	"strings"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/storage/sealed"
	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

// Verify validates cfg. Every failure is ErrConfiguration.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return domain.ErrConfiguration.WithDetails("server config is nil")
	}
	checks := []func(*ServerConfig) error{
		verifyServer,
		verifyStorage,
		verifyCluster,
		verifySecurity,
		verifyLog,
	}
	for _, check := range checks {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyServer(cfg *ServerConfig) error {
	s := cfg.Server
	if !s.RESP.Enabled && !s.HTTP.Enabled {
		return invalid("at least one of server.resp and server.http must be enabled")
	}

	type listener struct {
		field, addr string
		on          bool
	}
	addrs := []listener{
		{"server.resp.addr", s.RESP.Addr, s.RESP.Enabled},
		{"server.resp.tls_addr", s.RESP.TLSAddr, s.RESP.Enabled && s.RESP.TLSAddr != ""},
		{"server.http.addr", s.HTTP.Addr, s.HTTP.Enabled},
		{"cluster.raft_addr", cfg.Cluster.RaftAddr, strings.EqualFold(cfg.Storage.Driver, "raft")},
	}

	seen := map[string]string{}
	for _, a := range addrs {
		if !a.on {
			continue
		}
		if err := hostPort(a.field, a.addr); err != nil {
			return err
		}
		if other, dup := seen[a.addr]; dup && !strings.HasSuffix(a.addr, ":0") {
			return invalid("%s and %s both use %s", other, a.field, a.addr)
		}
		seen[a.addr] = a.field
	}

	if s.RESP.RateLimit < 0 || s.RESP.RateBurst < 0 {
		return invalid("server.resp rate limits must not be negative")
	}
	return nil
}

func verifyStorage(cfg *ServerConfig) error {
	st := cfg.Storage
	switch strings.ToLower(st.Driver) {
	case "memory":
		return nil
	case "badger", "raft":
	default:
		return invalid("storage.driver %q: want memory, badger or raft", st.Driver)
	}

	if st.DataDir == "" {
		return invalid("storage.data_dir is required for driver %s", st.Driver)
	}
	if err := os.MkdirAll(st.DataDir, 0o750); err != nil {
		return domain.ErrConfiguration.WithDetailsf("cannot create %s", st.DataDir).WithCause(err)
	}
	return nil
}

func verifyCluster(cfg *ServerConfig) error {
	if !strings.EqualFold(cfg.Storage.Driver, "raft") {
		return nil
	}
	c := cfg.Cluster
	if c.GossipAddr != "" {
		if err := hostPort("cluster.gossip_addr", c.GossipAddr); err != nil {
			return err
		}
	}
	if c.Bootstrap && len(c.Seeds) > 0 {
		return invalid("cluster.bootstrap and cluster.seeds are mutually exclusive")
	}
	if len(c.Seeds) > 0 && c.GossipAddr == "" {
		return invalid("cluster.seeds requires cluster.gossip_addr")
	}
	return nil
}

func verifySecurity(cfg *ServerConfig) error {
	sec := cfg.Security
	if (sec.TLSCertFile == "") != (sec.TLSKeyFile == "") {
		return invalid("security.tls_cert_file and security.tls_key_file must be set together")
	}
	if cfg.Server.RESP.TLSAddr != "" && sec.TLSCertFile == "" {
		return invalid("server.resp.tls_addr requires security.tls_cert_file")
	}
	for _, f := range []string{sec.TLSCertFile, sec.TLSKeyFile, sec.TLSClientCAFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return domain.ErrConfiguration.WithDetailsf("cannot read %s", f).WithCause(err)
		}
	}
	if sec.BackupPassphrase != "" {
		if err := sealed.ValidatePassphrase([]byte(sec.BackupPassphrase)); err != nil {
			return invalid("security.backup_passphrase: at least %d characters", sealed.MinPassphraseLength)
		}
	}
	if _, err := adaptive.ParseCipherType(sec.BackupCipher); err != nil {
		return invalid("security.backup_cipher %q: want aes-gcm or chacha20-poly1305", sec.BackupCipher)
	}
	return nil
}

func verifyLog(cfg *ServerConfig) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		return invalid("log.format %q: want json or text", cfg.Log.Format)
	}
	return nil
}

func hostPort(field, addr string) error {
	if addr == "" {
		return invalid("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return domain.ErrConfiguration.WithDetailsf("%s %q", field, addr).WithCause(err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return domain.ErrConfiguration.WithDetailsf(format, args...)
}
