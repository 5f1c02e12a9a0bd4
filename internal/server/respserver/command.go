package respserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
	"github.com/yndnr/seqmesh-go/internal/telemetry/tracer"
	"github.com/yndnr/seqmesh-go/pkg/cmap"
)

var errRateLimited = errors.New("rate limit exceeded")

// HandlerConfig configures a CommandHandler.
type HandlerConfig struct {
	Secret    string
	OpTimeout time.Duration
	RateLimit int
	RateBurst int
}

// CommandHandler executes RESP commands against a seqstore.Backend.
type CommandHandler struct {
	backend  seqstore.Backend
	attacher seqstore.Attacher

	// counters remembers handles returned by CTR.DEFINE for backends that
	// cannot attach by name.
	counters *cmap.Map[string, seqstore.CounterPrimitive]

	secret    []byte
	opTimeout time.Duration
	limiter   *limiterRegistry
	metrics   *metric.Registry
	logger    *slog.Logger

	commands map[string]command
}

type command struct {
	// arity is the exact argument count including the command name.
	arity int
	usage string
	run   func(ctx context.Context, c *Conn, args [][]byte) error
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(backend seqstore.Backend, cfg HandlerConfig, metrics *metric.Registry, logger *slog.Logger) *CommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = seqstore.DefaultOpTimeout
	}

	h := &CommandHandler{
		backend:   backend,
		counters:  cmap.New[string, seqstore.CounterPrimitive](),
		opTimeout: cfg.OpTimeout,
		limiter:   newLimiterRegistry(cfg.RateLimit, cfg.RateBurst),
		metrics:   metrics,
		logger:    logger,
	}
	if a, ok := backend.(seqstore.Attacher); ok {
		h.attacher = a
	}
	if cfg.Secret != "" {
		h.secret = []byte(cfg.Secret)
	}

	h.commands = map[string]command{
		"NS.OPEN":    {2, "NS.OPEN namespace", h.nsOpen},
		"KV.PUT":     {4, "KV.PUT namespace key value", h.kvPut},
		"KV.PUTNX":   {4, "KV.PUTNX namespace key value", h.kvPutNX},
		"KV.GET":     {3, "KV.GET namespace key", h.kvGet},
		"KV.RANGE":   {4, "KV.RANGE namespace start end", h.kvRange},
		"KV.CLEAR":   {2, "KV.CLEAR namespace", h.kvClear},
		"CTR.DEFINE": {3, "CTR.DEFINE name initial", h.ctrDefine},
		"CTR.GET":    {2, "CTR.GET name", h.ctrGet},
		"CTR.ADD":    {3, "CTR.ADD name delta", h.ctrAdd},
		"CTR.CAS":    {4, "CTR.CAS name expect update", h.ctrCAS},
		"CTR.RESET":  {2, "CTR.RESET name", h.ctrReset},
	}

	return h
}

// Handle runs one command and buffers its reply on c.
func (h *CommandHandler) Handle(ctx context.Context, c *Conn, args [][]byte) {
	name := normalizeCommandName(args[0])

	// Connection-level commands do not require authentication.
	switch name {
	case "PING":
		h.handlePing(c, args)
		h.metrics.ObserveRESPCommand(name, nil)
		return
	case "AUTH":
		h.metrics.ObserveRESPCommand(name, h.handleAuth(c, args))
		return
	case "QUIT":
		_ = WriteSimpleString(c.bw, "OK")
		_ = c.bw.Flush()
		_ = c.Close()
		return
	}

	if h.secret != nil && !c.Authenticated() {
		_ = WriteError(c.bw, "NOAUTH Authentication required")
		return
	}

	if !h.limiter.allow(c.RemoteAddr()) {
		_ = WriteError(c.bw, "ERR rate limit exceeded")
		h.metrics.ObserveRESPCommand(name, errRateLimited)
		return
	}

	cmd, ok := h.commands[name]
	if !ok {
		_ = WriteError(c.bw, "ERR unknown command '"+name+"'")
		return
	}
	if len(args) != cmd.arity {
		err := domain.ErrInvalidArgument.WithDetailsf("wrong number of arguments, usage: %s", cmd.usage)
		h.writeErr(c, err)
		h.metrics.ObserveRESPCommand(name, err)
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, h.opTimeout)
	defer cancel()
	opCtx, span := tracer.Start(opCtx, "resp."+name,
		attribute.String("resp.conn_id", c.id),
		attribute.String("resp.key", string(args[1])))

	err := cmd.run(opCtx, c, args)
	tracer.End(span, err)
	if err != nil {
		h.writeErr(c, err)
		if !domain.IsDomainError(err, domain.ErrInvalidArgument.Code) {
			c.logger.Debug("command failed", "cmd", name, "error", err)
		}
	}
	h.metrics.ObserveRESPCommand(name, err)
}

// writeErr renders err as "-NOTLEADER <addr>" or "-ERR <code> <text>".
func (h *CommandHandler) writeErr(c *Conn, err error) {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrStoreUnavailable.WithCause(err)
	}

	if de.Code == domain.ErrNotLeader.Code {
		_ = WriteError(c.bw, "NOTLEADER "+de.Details)
		return
	}

	text := de.Message
	if de.Details != "" {
		text = de.Details
	}
	_ = WriteError(c.bw, "ERR "+de.Code+" "+text)
}

func (h *CommandHandler) handlePing(c *Conn, args [][]byte) {
	if len(args) > 1 {
		_ = WriteBulkString(c.bw, string(args[1]))
		return
	}
	_ = WriteSimpleString(c.bw, "PONG")
}

// handleAuth accepts "AUTH secret" and the Redis 6 form "AUTH user secret";
// the user name is ignored.
func (h *CommandHandler) handleAuth(c *Conn, args [][]byte) error {
	var secret []byte
	switch len(args) {
	case 2:
		secret = args[1]
	case 3:
		secret = args[2]
	default:
		_ = WriteError(c.bw, "ERR wrong number of arguments for 'AUTH' command")
		return domain.ErrInvalidArgument
	}

	if h.secret == nil {
		_ = WriteError(c.bw, "ERR AUTH called without any secret configured")
		return domain.ErrInvalidArgument
	}
	if subtle.ConstantTimeCompare(secret, h.secret) != 1 {
		c.logger.Warn("authentication failed")
		_ = WriteError(c.bw, "WRONGPASS invalid secret")
		return domain.ErrInvalidArgument
	}

	c.authenticated.Store(true)
	_ = WriteSimpleString(c.bw, "OK")
	return nil
}

// ============================================================================
// Handles
// ============================================================================

func (h *CommandHandler) namespace(ctx context.Context, name string) (seqstore.Namespace, error) {
	if h.attacher != nil {
		return h.attacher.AttachNamespace(name), nil
	}
	return h.backend.Namespace(ctx, name)
}

func (h *CommandHandler) counter(name string) (seqstore.CounterPrimitive, error) {
	if h.attacher != nil {
		return h.attacher.AttachCounter(name), nil
	}
	if c, ok := h.counters.Get(name); ok {
		return c, nil
	}
	return nil, domain.ErrCorruptStore.WithDetailsf("counter %q is not defined", name)
}

func parseInt(arg []byte, what string) (int64, error) {
	n, err := strconv.ParseInt(string(arg), 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidArgument.WithDetailsf("%s is not an integer: %q", what, arg)
	}
	return n, nil
}

// ============================================================================
// Namespace commands
// ============================================================================

// NS.OPEN namespace
func (h *CommandHandler) nsOpen(ctx context.Context, c *Conn, args [][]byte) error {
	if _, err := h.backend.Namespace(ctx, string(args[1])); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}

// KV.PUT namespace key value -> :1 when the key was new
func (h *CommandHandler) kvPut(ctx context.Context, c *Conn, args [][]byte) error {
	return h.put(ctx, c, args, false)
}

// KV.PUTNX namespace key value -> :1 when stored
func (h *CommandHandler) kvPutNX(ctx context.Context, c *Conn, args [][]byte) error {
	return h.put(ctx, c, args, true)
}

func (h *CommandHandler) put(ctx context.Context, c *Conn, args [][]byte, ifAbsent bool) error {
	key, err := parseInt(args[2], "key")
	if err != nil {
		return err
	}
	ns, err := h.namespace(ctx, string(args[1]))
	if err != nil {
		return err
	}

	var inserted bool
	if ifAbsent {
		inserted, err = ns.PutIfAbsent(ctx, key, string(args[3]))
	} else {
		inserted, err = ns.Put(ctx, key, string(args[3]))
	}
	if err != nil {
		return err
	}
	return WriteBool(c.bw, inserted)
}

// KV.GET namespace key -> bulk, or null when absent
func (h *CommandHandler) kvGet(ctx context.Context, c *Conn, args [][]byte) error {
	key, err := parseInt(args[2], "key")
	if err != nil {
		return err
	}
	ns, err := h.namespace(ctx, string(args[1]))
	if err != nil {
		return err
	}

	v, ok, err := ns.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return WriteNullBulk(c.bw)
	}
	return WriteBulkString(c.bw, v)
}

// KV.RANGE namespace start end -> flat array key, value, key, value...
func (h *CommandHandler) kvRange(ctx context.Context, c *Conn, args [][]byte) error {
	start, err := parseInt(args[2], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[3], "end")
	if err != nil {
		return err
	}
	ns, err := h.namespace(ctx, string(args[1]))
	if err != nil {
		return err
	}

	entries, err := ns.GetRange(ctx, start, end)
	if err != nil {
		return err
	}
	if 2*len(entries) > MaxReplyLen {
		return domain.ErrInvalidArgument.WithDetailsf("range holds %d entries, limit %d", len(entries), MaxReplyLen/2)
	}

	if err := WriteArrayHeader(c.bw, 2*len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := WriteBulkString(c.bw, strconv.FormatInt(e.Key, 10)); err != nil {
			return err
		}
		if err := WriteBulkString(c.bw, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// KV.CLEAR namespace
func (h *CommandHandler) kvClear(ctx context.Context, c *Conn, args [][]byte) error {
	ns, err := h.namespace(ctx, string(args[1]))
	if err != nil {
		return err
	}
	if err := ns.Clear(ctx); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}

// ============================================================================
// Counter commands
// ============================================================================

// CTR.DEFINE name initial
func (h *CommandHandler) ctrDefine(ctx context.Context, c *Conn, args [][]byte) error {
	initial, err := parseInt(args[2], "initial")
	if err != nil {
		return err
	}
	name := string(args[1])
	ctr, err := h.backend.Counter(ctx, name, initial)
	if err != nil {
		return err
	}
	if h.attacher == nil {
		h.counters.Set(name, ctr)
	}
	return WriteSimpleString(c.bw, "OK")
}

// CTR.GET name
func (h *CommandHandler) ctrGet(ctx context.Context, c *Conn, args [][]byte) error {
	ctr, err := h.counter(string(args[1]))
	if err != nil {
		return err
	}
	v, err := ctr.Value(ctx)
	if err != nil {
		return err
	}
	return WriteInteger(c.bw, v)
}

// CTR.ADD name delta
func (h *CommandHandler) ctrAdd(ctx context.Context, c *Conn, args [][]byte) error {
	delta, err := parseInt(args[2], "delta")
	if err != nil {
		return err
	}
	ctr, err := h.counter(string(args[1]))
	if err != nil {
		return err
	}
	v, err := ctr.AddAndGet(ctx, delta)
	if err != nil {
		return err
	}
	return WriteInteger(c.bw, v)
}

// CTR.CAS name expect update -> :1 when swapped
func (h *CommandHandler) ctrCAS(ctx context.Context, c *Conn, args [][]byte) error {
	expect, err := parseInt(args[2], "expect")
	if err != nil {
		return err
	}
	update, err := parseInt(args[3], "update")
	if err != nil {
		return err
	}
	ctr, err := h.counter(string(args[1]))
	if err != nil {
		return err
	}
	swapped, err := ctr.CompareAndSwap(ctx, expect, update)
	if err != nil {
		return err
	}
	return WriteBool(c.bw, swapped)
}

// CTR.RESET name
func (h *CommandHandler) ctrReset(ctx context.Context, c *Conn, args [][]byte) error {
	ctr, err := h.counter(string(args[1]))
	if err != nil {
		return err
	}
	if err := ctr.Reset(ctx); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}
