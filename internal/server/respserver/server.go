package respserver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
	"github.com/yndnr/seqmesh-go/pkg/cmap"
)

// Config holds the RESP server configuration.
type Config struct {
	// Address is the plaintext listen address. Empty disables it.
	Address string
	// TLSAddress is the TLS listen address. Empty disables it.
	TLSAddress string
	// TLSConfig is required when TLSAddress is set.
	TLSConfig *tls.Config

	// Secret, when set, must be presented with AUTH before any data
	// command.
	Secret string

	// ReadTimeout bounds reading one command once its first byte arrived.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration
	// IdleTimeout closes connections with no command for this long.
	IdleTimeout time.Duration
	// OpTimeout bounds each backend call.
	OpTimeout time.Duration

	// RateLimit is the number of commands per second allowed per client IP.
	// Zero disables limiting.
	RateLimit int
	RateBurst int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:7379",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		OpTimeout:    5 * time.Second,
		RateLimit:    5000,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = d.ReadTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.IdleTimeout <= 0 {
		out.IdleTimeout = d.IdleTimeout
	}
	if out.OpTimeout <= 0 {
		out.OpTimeout = d.OpTimeout
	}
	return &out
}

const limiterPruneInterval = time.Minute

// Server serves a seqstore.Backend over the Redis serialization protocol.
type Server struct {
	cfg     *Config
	handler *CommandHandler
	logger  *slog.Logger
	metrics *metric.Registry

	mu      sync.Mutex
	plainLn net.Listener
	tlsLn   net.Listener

	conns   *cmap.Map[string, *Conn]
	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Conn is a single client connection.
type Conn struct {
	id      string
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	logger  *slog.Logger

	authenticated atomic.Bool
	closed        atomic.Bool
}

func newConn(c net.Conn, logger *slog.Logger) *Conn {
	id := ulid.Make().String()
	return &Conn{
		id:      id,
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bufio.NewWriter(c),
		logger:  logger.With("conn_id", id, "remote", c.RemoteAddr().String()),
	}
}

// ID returns the connection's ULID.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// Authenticated reports whether the connection passed AUTH.
func (c *Conn) Authenticated() bool {
	return c.authenticated.Load()
}

// New creates a RESP server for backend.
func New(cfg *Config, backend seqstore.Backend, metrics *metric.Registry, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		conns:   cmap.New[string, *Conn](),
		stopCh:  make(chan struct{}),
	}
	s.handler = NewCommandHandler(backend, HandlerConfig{
		Secret:    cfg.Secret,
		OpTimeout: cfg.OpTimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	}, metrics, logger)

	return s
}

// Start opens the configured listeners and serves them in the background.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Address == "" && s.cfg.TLSAddress == "" {
		s.logger.Info("resp server disabled (no listen address)")
		return nil
	}
	if s.cfg.TLSAddress != "" && s.cfg.TLSConfig == nil {
		return errors.New("resp: tls_address set without TLS configuration")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Address != "" {
		ln, err := net.Listen("tcp", s.cfg.Address)
		if err != nil {
			return err
		}
		s.plainLn = ln
	}
	if s.cfg.TLSAddress != "" {
		ln, err := tls.Listen("tcp", s.cfg.TLSAddress, s.cfg.TLSConfig)
		if err != nil {
			if s.plainLn != nil {
				s.plainLn.Close()
			}
			return err
		}
		s.tlsLn = ln
	}

	s.running.Store(true)

	for _, ln := range []net.Listener{s.plainLn, s.tlsLn} {
		if ln == nil {
			continue
		}
		s.logger.Info("resp server listening", "address", ln.Addr().String(), "tls", ln == s.tlsLn)
		s.wg.Add(1)
		go func(ln net.Listener) {
			defer s.wg.Done()
			if err := s.acceptLoop(ctx, ln); err != nil && s.running.Load() {
				s.logger.Error("resp accept loop failed", "address", ln.Addr().String(), "error", err)
			}
		}(ln)
	}

	s.wg.Add(1)
	go s.janitor()

	return nil
}

// Addr returns the plaintext listener address, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plainLn == nil {
		return nil
	}
	return s.plainLn.Addr()
}

// TLSAddr returns the TLS listener address, or nil.
func (s *Server) TLSAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tlsLn == nil {
		return nil
	}
	return s.tlsLn.Addr()
}

// Shutdown closes the listeners and every open connection, then waits for
// the connection goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stopCh)

	var firstErr error

	s.mu.Lock()
	for _, ln := range []net.Listener{s.plainLn, s.tlsLn} {
		if ln == nil {
			continue
		}
		if err := ln.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.mu.Unlock()

	for _, c := range s.conns.Values() {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("resp server stopped")
	return firstErr
}

func (s *Server) janitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(limiterPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n := s.handler.limiter.prune(s.cfg.IdleTimeout); n > 0 {
				s.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		c := newConn(nc, s.logger)
		s.conns.Set(c.id, c)
		s.metrics.RESPConnOpened()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.conns.Delete(c.id)
				s.metrics.RESPConnClosed()
			}()
			s.serveConn(ctx, c)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, c *Conn) {
	defer c.Close()
	c.logger.Debug("connection opened")

	for {
		// Idle connections may wait for their next command up to IdleTimeout.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logReadErr(c, err)
			return
		}

		// Once a command started it must arrive within ReadTimeout.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}

		args, err := ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, ErrLimitExceeded) {
				c.logger.Warn("protocol limit exceeded", "error", err)
				s.replyAndClose(c, "ERR protocol limit exceeded")
				return
			}
			if errors.Is(err, ErrProtocol) {
				s.replyAndClose(c, "ERR protocol error: "+err.Error())
				return
			}
			s.logReadErr(c, err)
			return
		}

		if len(args) == 0 {
			_ = WriteError(c.bw, "ERR no command")
		} else {
			s.handler.Handle(ctx, c, args)
		}

		if c.closed.Load() {
			return
		}
		if err := c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) replyAndClose(c *Conn, msg string) {
	_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	_ = WriteError(c.bw, msg)
	_ = c.bw.Flush()
}

func (s *Server) logReadErr(c *Conn, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection closed")
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Debug("connection timed out")
	default:
		c.logger.Debug("connection read error", "error", err)
	}
}
