package remote

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/server/respserver"
)

// Config configures a remote Backend.
type Config struct {
	// Addr is the host:port of a RESP server.
	Addr string
	// Secret is sent with AUTH on every new connection when set.
	Secret string
	// TLSConfig enables TLS when set.
	TLSConfig *tls.Config

	// PoolSize is the number of idle connections kept. Default 8.
	PoolSize int
	// DialTimeout bounds connection setup. Default 3s.
	DialTimeout time.Duration
	// OpTimeout applies to calls whose context has no deadline. Default 5s.
	OpTimeout time.Duration

	Logger *slog.Logger
}

const (
	defaultPoolSize    = 8
	defaultDialTimeout = 3 * time.Second
)

// Backend is a seqstore.Backend over RESP.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	addr atomic.Value // string; moves on NOTLEADER redirects

	mu     sync.Mutex
	idle   []*conn
	closed bool
}

type conn struct {
	addr string
	nc   net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// New creates a Backend. No connection is made until the first call.
func New(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, domain.ErrConfiguration.WithDetails("remote address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return nil, domain.ErrConfiguration.WithDetailsf("remote address %q", cfg.Addr).WithCause(err)
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = seqstore.DefaultOpTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Backend{cfg: cfg, logger: cfg.Logger.With("component", "remote")}
	b.addr.Store(cfg.Addr)
	return b, nil
}

// Addr returns the address calls currently go to.
func (b *Backend) Addr() string {
	return b.addr.Load().(string)
}

// Close closes every idle connection. Calls after Close fail with
// ErrStoreUnavailable.
func (b *Backend) Close() error {
	b.mu.Lock()
	idle := b.idle
	b.idle = nil
	b.closed = true
	b.mu.Unlock()

	for _, c := range idle {
		c.nc.Close()
	}
	return nil
}

// Ping checks that the server answers.
func (b *Backend) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	rep, err := b.do(ctx, "PING")
	if err != nil {
		return 0, err
	}
	if rep.Kind != respserver.KindSimple || rep.Str != "PONG" {
		return 0, unexpected("PING", rep)
	}
	return time.Since(start), nil
}

// Namespace implements seqstore.Backend.
func (b *Backend) Namespace(ctx context.Context, name string) (seqstore.Namespace, error) {
	if err := b.expectOK(ctx, "NS.OPEN", name); err != nil {
		return nil, err
	}
	return &namespace{b: b, name: name}, nil
}

// Counter implements seqstore.Backend.
func (b *Backend) Counter(ctx context.Context, name string, initial int64) (seqstore.CounterPrimitive, error) {
	if err := b.expectOK(ctx, "CTR.DEFINE", name, strconv.FormatInt(initial, 10)); err != nil {
		return nil, err
	}
	return &counter{b: b, name: name}, nil
}

// AttachNamespace implements seqstore.Attacher.
func (b *Backend) AttachNamespace(name string) seqstore.Namespace {
	return &namespace{b: b, name: name}
}

// AttachCounter implements seqstore.Attacher.
func (b *Backend) AttachCounter(name string) seqstore.CounterPrimitive {
	return &counter{b: b, name: name}
}

// ============================================================================
// Request / reply
// ============================================================================

// do runs one command, following at most one NOTLEADER redirect.
func (b *Backend) do(ctx context.Context, args ...string) (respserver.Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OpTimeout)
		defer cancel()
	}

	rep, err := b.roundTrip(ctx, args)
	if err == nil || !errors.Is(err, domain.ErrNotLeader) {
		return rep, err
	}

	var de *domain.DomainError
	errors.As(err, &de)
	leader := de.Details
	if leader == "" || leader == b.Addr() {
		return rep, err
	}

	b.logger.Info("following leader redirect", "from", b.Addr(), "to", leader)
	b.addr.Store(leader)
	b.dropIdle()
	return b.roundTrip(ctx, args)
}

func (b *Backend) roundTrip(ctx context.Context, args []string) (respserver.Reply, error) {
	if err := ctx.Err(); err != nil {
		return respserver.Reply{}, domain.ErrStoreUnavailable.WithCause(err)
	}

	c, err := b.get(ctx)
	if err != nil {
		return respserver.Reply{}, err
	}

	rep, err := c.exchange(ctx, args)
	if err != nil {
		c.nc.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return respserver.Reply{}, domain.ErrStoreUnavailable.WithDetailsf("%s %s", args[0], c.addr).WithCause(err)
	}
	b.put(c)

	if rep.Kind == respserver.KindError {
		return rep, replyError(rep.Str)
	}
	return rep, nil
}

// exchange writes one command and reads its reply. A cancelled ctx expires
// the socket deadline so the call returns promptly.
func (c *conn) exchange(ctx context.Context, args []string) (respserver.Reply, error) {
	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return respserver.Reply{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.nc.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := respserver.WriteCommand(c.bw, args...); err != nil {
		return respserver.Reply{}, err
	}
	if err := c.bw.Flush(); err != nil {
		return respserver.Reply{}, err
	}
	return respserver.ReadReply(c.br)
}

func (b *Backend) get(ctx context.Context) (*conn, error) {
	addr := b.Addr()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, domain.ErrStoreUnavailable.WithDetails("remote backend is closed")
	}
	for len(b.idle) > 0 {
		c := b.idle[len(b.idle)-1]
		b.idle = b.idle[:len(b.idle)-1]
		if c.addr == addr {
			b.mu.Unlock()
			return c, nil
		}
		c.nc.Close()
	}
	b.mu.Unlock()

	return b.dial(ctx, addr)
}

func (b *Backend) put(c *conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.idle) >= b.cfg.PoolSize || c.addr != b.Addr() {
		c.nc.Close()
		return
	}
	b.idle = append(b.idle, c)
}

func (b *Backend) dropIdle() {
	b.mu.Lock()
	idle := b.idle
	b.idle = nil
	b.mu.Unlock()

	for _, c := range idle {
		c.nc.Close()
	}
}

func (b *Backend) dial(ctx context.Context, addr string) (*conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
	defer cancel()

	var (
		nc  net.Conn
		err error
	)
	if b.cfg.TLSConfig != nil {
		d := &tls.Dialer{Config: b.cfg.TLSConfig}
		nc, err = d.DialContext(dialCtx, "tcp", addr)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(dialCtx, "tcp", addr)
	}
	if err != nil {
		return nil, domain.ErrStoreUnavailable.WithDetailsf("dial %s", addr).WithCause(err)
	}

	c := &conn{addr: addr, nc: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc)}

	if b.cfg.Secret != "" {
		rep, err := c.exchange(ctx, []string{"AUTH", b.cfg.Secret})
		if err != nil {
			nc.Close()
			return nil, domain.ErrStoreUnavailable.WithDetailsf("auth %s", addr).WithCause(err)
		}
		if rep.Kind == respserver.KindError {
			nc.Close()
			return nil, replyError(rep.Str)
		}
	}

	b.logger.Debug("connected", "addr", addr)
	return c, nil
}

// replyError maps an error reply onto a domain error.
func replyError(line string) error {
	kind, rest, _ := strings.Cut(line, " ")

	switch kind {
	case "NOTLEADER":
		return domain.ErrNotLeader.WithDetails(rest)
	case "NOAUTH", "WRONGPASS":
		return domain.ErrConfiguration.WithDetails(line)
	case "ERR":
		code, text, _ := strings.Cut(rest, " ")
		if known, ok := domain.LookupError(code); ok {
			if text == "" || text == known.Message {
				return known
			}
			return known.WithDetails(text)
		}
	}
	return domain.ErrStoreUnavailable.WithDetails(line)
}

func unexpected(cmd string, rep respserver.Reply) error {
	return domain.ErrCorruptStore.WithDetailsf("unexpected %s reply %q", cmd, string(rep.Kind))
}

func (b *Backend) expectOK(ctx context.Context, args ...string) error {
	rep, err := b.do(ctx, args...)
	if err != nil {
		return err
	}
	if rep.Kind != respserver.KindSimple {
		return unexpected(args[0], rep)
	}
	return nil
}

func (b *Backend) integer(ctx context.Context, args ...string) (int64, error) {
	rep, err := b.do(ctx, args...)
	if err != nil {
		return 0, err
	}
	if rep.Kind != respserver.KindInteger {
		return 0, unexpected(args[0], rep)
	}
	return rep.Int, nil
}

// ============================================================================
// Handles
// ============================================================================

type namespace struct {
	b    *Backend
	name string
}

func (n *namespace) Put(ctx context.Context, key int64, value string) (bool, error) {
	v, err := n.b.integer(ctx, "KV.PUT", n.name, strconv.FormatInt(key, 10), value)
	return v == 1, err
}

func (n *namespace) PutIfAbsent(ctx context.Context, key int64, value string) (bool, error) {
	v, err := n.b.integer(ctx, "KV.PUTNX", n.name, strconv.FormatInt(key, 10), value)
	return v == 1, err
}

func (n *namespace) Get(ctx context.Context, key int64) (string, bool, error) {
	rep, err := n.b.do(ctx, "KV.GET", n.name, strconv.FormatInt(key, 10))
	if err != nil {
		return "", false, err
	}
	if rep.Kind != respserver.KindBulk {
		return "", false, unexpected("KV.GET", rep)
	}
	if rep.Null {
		return "", false, nil
	}
	return rep.Str, true, nil
}

func (n *namespace) GetRange(ctx context.Context, start, end int64) ([]seqstore.Entry, error) {
	rep, err := n.b.do(ctx, "KV.RANGE", n.name, strconv.FormatInt(start, 10), strconv.FormatInt(end, 10))
	if err != nil {
		return nil, err
	}
	if rep.Kind != respserver.KindArray || len(rep.Array)%2 != 0 {
		return nil, unexpected("KV.RANGE", rep)
	}

	out := make([]seqstore.Entry, 0, len(rep.Array)/2)
	for i := 0; i < len(rep.Array); i += 2 {
		k, err := strconv.ParseInt(rep.Array[i].Str, 10, 64)
		if err != nil {
			return nil, domain.ErrCorruptStore.WithDetailsf("KV.RANGE key %q", rep.Array[i].Str)
		}
		out = append(out, seqstore.Entry{Key: k, Value: rep.Array[i+1].Str})
	}
	return out, nil
}

func (n *namespace) Clear(ctx context.Context) error {
	return n.b.expectOK(ctx, "KV.CLEAR", n.name)
}

type counter struct {
	b    *Backend
	name string
}

func (c *counter) Value(ctx context.Context) (int64, error) {
	return c.b.integer(ctx, "CTR.GET", c.name)
}

func (c *counter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	return c.b.integer(ctx, "CTR.ADD", c.name, strconv.FormatInt(delta, 10))
}

func (c *counter) CompareAndSwap(ctx context.Context, expect, update int64) (bool, error) {
	v, err := c.b.integer(ctx, "CTR.CAS", c.name, strconv.FormatInt(expect, 10), strconv.FormatInt(update, 10))
	return v == 1, err
}

func (c *counter) Reset(ctx context.Context) error {
	return c.b.expectOK(ctx, "CTR.RESET", c.name)
}
