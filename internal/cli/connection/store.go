package connection

import (
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/seqmesh-go/internal/storage/remote"
)

// Options describes how to reach a server.
type Options struct {
	// Server is the RESP host:port.
	Server string
	// Admin is the admin HTTP host:port or URL.
	Admin string
	// Secret authenticates both links.
	Secret string
	// Timeout bounds each call.
	Timeout time.Duration

	TLS        bool
	CAFile     string
	ServerName string
}

// Dial returns a remote backend for opts.Server. A single pooled
// connection is enough for one CLI invocation.
func Dial(opts Options) (*remote.Backend, error) {
	cfg := remote.Config{
		Addr:        opts.Server,
		Secret:      opts.Secret,
		PoolSize:    1,
		DialTimeout: opts.Timeout,
		OpTimeout:   opts.Timeout,
	}

	if opts.TLS {
		tlsCfg, err := tlsroots.ClientConfig(tlsroots.ClientOptions{
			CAFile:     opts.CAFile,
			ServerName: opts.ServerName,
		})
		if err != nil {
			return nil, domain.ErrConfiguration.WithDetails("client tls").WithCause(err)
		}
		cfg.TLSConfig = tlsCfg
	}

	return remote.New(cfg)
}
