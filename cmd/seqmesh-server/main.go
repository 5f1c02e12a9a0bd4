package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/seqmesh-go/internal/backend"
	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/seqmesh-go/internal/infra/confloader"
	"github.com/yndnr/seqmesh-go/internal/infra/shutdown"
	"github.com/yndnr/seqmesh-go/internal/infra/tlsroots"
	"github.com/yndnr/seqmesh-go/internal/server/config"
	"github.com/yndnr/seqmesh-go/internal/server/httpserver"
	"github.com/yndnr/seqmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/seqmesh-go/internal/server/respserver"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
	"github.com/yndnr/seqmesh-go/internal/telemetry/tracer"
	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

const shutdownTimeout = 30 * time.Second

func main() {
	app := &cli.App{
		Name:    "seqmesh-server",
		Usage:   "Shared FIX session message store and sequence counters",
		Version: buildinfo.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"SEQMESH_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Validate the configuration, print it with secrets masked, and exit",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	configFile := c.String("config")

	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if c.Bool("check") {
		fmt.Fprintf(c.App.Writer, "configuration ok: %+v\n", *config.Sanitize(cfg))
		return nil
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	info := buildinfo.Get()
	log.Info("starting seqmesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile,
		"driver", cfg.Storage.Driver)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sd := shutdown.NewHandler(shutdownTimeout, slogLogger)

	// Hooks run in reverse, so the tracer flushes last and the backend
	// closes after both listeners have drained.
	traceShutdown, err := tracer.Setup(ctx, tracer.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	sd.OnShutdown("tracer", shutdown.Hook(traceShutdown))

	metrics := metric.NewRegistry()

	bcfg, err := config.ToBackendConfig(cfg, slogLogger)
	if err != nil {
		return err
	}
	h, err := backend.Open(ctx, bcfg, slogLogger, backend.WithMetrics(metrics))
	if err != nil {
		_ = sd.Run()
		return fmt.Errorf("open storage: %w", err)
	}
	sd.OnShutdown("backend", func(context.Context) error { return h.Close() })

	if err := startRESP(ctx, cfg, h, metrics, slogLogger, sd); err != nil {
		_ = sd.Run()
		return err
	}
	if err := startHTTP(cfg, h, metrics, slogLogger, sd); err != nil {
		_ = sd.Run()
		return err
	}

	if configFile != "" {
		watchLogLevel(ctx, configFile, log, slogLogger)
	}

	log.Info("server started")
	if err := sd.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig layers defaults, the optional file and SEQMESH_* variables,
// then validates the result.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger installs the redacting logger as the process default and
// returns the *slog.Logger view for components that take one.
func initLogger(cfg *config.ServerConfig) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)

	sl := logger.ToSlog(log)
	slog.SetDefault(sl)
	return log, sl, nil
}

func startRESP(ctx context.Context, cfg *config.ServerConfig, h *backend.Handle, metrics *metric.Registry, log *slog.Logger, sd *shutdown.Handler) error {
	rc := cfg.Server.RESP
	if !rc.Enabled {
		log.Info("resp listener disabled")
		return nil
	}

	respCfg := &respserver.Config{
		Address:      rc.Addr,
		TLSAddress:   rc.TLSAddr,
		Secret:       cfg.Security.AuthSecret,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		IdleTimeout:  rc.IdleTimeout,
		OpTimeout:    rc.OpTimeout,
		RateLimit:    rc.RateLimit,
		RateBurst:    rc.RateBurst,
	}

	if rc.TLSAddr != "" {
		sec := cfg.Security
		opts := []tlsroots.WatcherOption{tlsroots.WithLogger(log)}
		if sec.TLSClientCAFile != "" {
			opts = append(opts, tlsroots.WithClientCA(sec.TLSClientCAFile))
		}
		watcher, err := tlsroots.NewWatcher(sec.TLSCertFile, sec.TLSKeyFile, opts...)
		if err != nil {
			return fmt.Errorf("load tls certificate: %w", err)
		}
		tlsCfg, err := watcher.ServerConfig()
		if err != nil {
			return fmt.Errorf("tls config: %w", err)
		}
		respCfg.TLSConfig = tlsCfg

		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Warn("certificate watcher stopped", "error", err)
			}
		}()
	}

	srv := respserver.New(respCfg, h.Backend, metrics, log)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start resp listener: %w", err)
	}
	sd.OnShutdown("resp", srv.Shutdown)
	return nil
}

func startHTTP(cfg *config.ServerConfig, h *backend.Handle, metrics *metric.Registry, log *slog.Logger, sd *shutdown.Handler) error {
	hc := cfg.Server.HTTP
	if !hc.Enabled {
		log.Info("admin listener disabled")
		return nil
	}

	handlerCfg := handler.Config{
		Driver: h.Driver,
		Ready:  readiness(h),
		Logger: log,
	}
	if pass := cfg.Security.BackupPassphrase; pass != "" {
		// Verify has already accepted the name.
		cipher, _ := adaptive.ParseCipherType(cfg.Security.BackupCipher)
		handlerCfg.BackupPassphrase = []byte(pass)
		handlerCfg.BackupCipher = cipher
	}
	// Interfaces stay nil unless the driver has the capability.
	if h.Engine != nil {
		handlerCfg.Storage = h.Engine
	}
	if h.Node != nil {
		handlerCfg.Cluster = h.Node
	}

	router := httpserver.NewRouter(&httpserver.RouterConfig{
		Handler: handler.New(handlerCfg),
		Metrics: metrics,
		Secret:  cfg.Security.AuthSecret,
		Logger:  log,
	})

	srv := httpserver.New(hc.Addr, router, log)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start admin listener: %w", err)
	}
	sd.OnShutdown("http", srv.Shutdown)
	return nil
}

// readiness reports whether the substrate can serve: a raft node needs a
// known leader, and a leader must have caught up with the log; a badger
// engine must answer a stats call.
func readiness(h *backend.Handle) func(context.Context) error {
	return func(ctx context.Context) error {
		if h.Node != nil {
			st := h.Node.Status()
			if st.LeaderID == "" {
				return domain.ErrStoreUnavailable.WithDetails("no raft leader elected")
			}
			if st.LeaderID == st.NodeID && !st.Readable {
				return domain.ErrStoreUnavailable.WithDetails("leader applying committed log")
			}
		}
		if h.Engine != nil {
			if _, err := h.Engine.Stats(ctx); err != nil {
				return domain.ErrStoreUnavailable.WithDetails("storage engine").WithCause(err)
			}
		}
		return nil
	}
}

// watchLogLevel applies log.level from the config file whenever it
// changes. Other settings need a restart.
func watchLogLevel(ctx context.Context, path string, log logger.Logger, sl *slog.Logger) {
	w := confloader.NewWatcher(path, confloader.WithWatcherLogger(sl))
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		if cfg.Log.Level == logger.GetLevel() {
			return
		}
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level reloaded", "level", logger.GetLevel())
	})

	go func() {
		if err := w.Run(ctx); err != nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()
}
