package config

import "time"

// Default configuration values.
const (
	DefaultRESPAddr = "127.0.0.1:7379"
	DefaultHTTPAddr = "127.0.0.1:7380"
	DefaultRaftAddr = "127.0.0.1:7381"

	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 5 * time.Minute
	DefaultOpTimeout    = 5 * time.Second
	DefaultRateLimit    = 5000

	DefaultDriver     = "badger"
	DefaultDataDir    = "/var/lib/seqmesh/data"
	DefaultGCInterval = "10m"
	DefaultLeaderWait = 30 * time.Second

	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
	DefaultServiceName = "seqmesh-server"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			RESP: RESPConfig{
				Enabled:      true,
				Addr:         DefaultRESPAddr,
				ReadTimeout:  DefaultReadTimeout,
				WriteTimeout: DefaultWriteTimeout,
				IdleTimeout:  DefaultIdleTimeout,
				OpTimeout:    DefaultOpTimeout,
				RateLimit:    DefaultRateLimit,
			},
			HTTP: HTTPConfig{
				Enabled: true,
				Addr:    DefaultHTTPAddr,
			},
		},
		Storage: StorageSection{
			Driver:     DefaultDriver,
			DataDir:    DefaultDataDir,
			SyncWrites: true,
			GCInterval: DefaultGCInterval,
		},
		Cluster: ClusterSection{
			RaftAddr:   DefaultRaftAddr,
			LeaderWait: DefaultLeaderWait,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Telemetry: TelemetrySection{
			Tracing: TracingConfig{
				ServiceName: DefaultServiceName,
				SampleRatio: 1,
			},
		},
	}
}
