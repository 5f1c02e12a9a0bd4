package respserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/storage/memory"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *Config {
	return &Config{
		Address:      "127.0.0.1:0",
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		IdleTimeout:  time.Second,
	}
}

// client drives one side of a net.Pipe served by serveConn.
type client struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	done chan struct{}
}

func pipeClient(t *testing.T, srv *Server) *client {
	t.Helper()

	server, conn := net.Pipe()
	c := &client{t: t, conn: conn, br: bufio.NewReader(conn), bw: bufio.NewWriter(conn), done: make(chan struct{})}
	go func() {
		srv.serveConn(context.Background(), newConn(server, quietLogger()))
		close(c.done)
	}()
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *client) do(args ...string) Reply {
	c.t.Helper()

	c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := WriteCommand(c.bw, args...); err != nil {
		c.t.Fatalf("write %v: %v", args, err)
	}
	if err := c.bw.Flush(); err != nil {
		c.t.Fatalf("flush %v: %v", args, err)
	}
	rep, err := ReadReply(c.br)
	if err != nil {
		c.t.Fatalf("read reply to %v: %v", args, err)
	}
	return rep
}

func wantSimple(t *testing.T, rep Reply, want string) {
	t.Helper()
	if rep.Kind != KindSimple || rep.Str != want {
		t.Errorf("reply = %+v, want +%s", rep, want)
	}
}

func wantInt(t *testing.T, rep Reply, want int64) {
	t.Helper()
	if rep.Kind != KindInteger || rep.Int != want {
		t.Errorf("reply = %+v, want :%d", rep, want)
	}
}

func wantErrPrefix(t *testing.T, rep Reply, prefix string) {
	t.Helper()
	if rep.Kind != KindError || !strings.HasPrefix(rep.Str, prefix) {
		t.Errorf("reply = %+v, want -%s...", rep, prefix)
	}
}

func TestServer_PingQuit(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantSimple(t, c.do("PING"), "PONG")
	if rep := c.do("ping", "hello"); rep.Kind != KindBulk || rep.Str != "hello" {
		t.Errorf("PING hello = %+v", rep)
	}
	wantSimple(t, c.do("QUIT"), "OK")

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Error("connection not closed after QUIT")
	}
}

func TestServer_Namespace(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantSimple(t, c.do("NS.OPEN", "ns"), "OK")
	wantInt(t, c.do("KV.PUT", "ns", "3", "msg3"), 1)
	wantInt(t, c.do("KV.PUT", "ns", "3", "msg3b"), 0)
	wantInt(t, c.do("KV.PUTNX", "ns", "3", "other"), 0)
	wantInt(t, c.do("KV.PUTNX", "ns", "1", "msg1"), 1)
	wantInt(t, c.do("KV.PUT", "ns", "-1", "20240101-00:00:00.000"), 1)

	if rep := c.do("KV.GET", "ns", "3"); rep.Kind != KindBulk || rep.Str != "msg3b" {
		t.Errorf("KV.GET 3 = %+v", rep)
	}
	if rep := c.do("KV.GET", "ns", "2"); rep.Kind != KindBulk || !rep.Null {
		t.Errorf("KV.GET 2 = %+v, want null", rep)
	}

	rep := c.do("KV.RANGE", "ns", "1", "10")
	if rep.Kind != KindArray || len(rep.Array) != 4 {
		t.Fatalf("KV.RANGE = %+v", rep)
	}
	if rep.Array[0].Str != "1" || rep.Array[1].Str != "msg1" || rep.Array[2].Str != "3" || rep.Array[3].Str != "msg3b" {
		t.Errorf("KV.RANGE entries = %+v", rep.Array)
	}

	wantSimple(t, c.do("KV.CLEAR", "ns"), "OK")
	if rep := c.do("KV.RANGE", "ns", "-10", "10"); len(rep.Array) != 0 {
		t.Errorf("KV.RANGE after clear = %+v", rep)
	}
}

func TestServer_Counter(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantErrPrefix(t, c.do("CTR.GET", "ctr"), "ERR SM-STORE-5001")

	wantSimple(t, c.do("CTR.DEFINE", "ctr", "1"), "OK")
	wantInt(t, c.do("CTR.GET", "ctr"), 1)
	wantInt(t, c.do("CTR.ADD", "ctr", "4"), 5)
	wantInt(t, c.do("CTR.CAS", "ctr", "1", "9"), 0)
	wantInt(t, c.do("CTR.CAS", "ctr", "5", "9"), 1)
	wantSimple(t, c.do("CTR.DEFINE", "ctr", "100"), "OK")
	wantInt(t, c.do("CTR.GET", "ctr"), 9)
	wantSimple(t, c.do("CTR.RESET", "ctr"), "OK")
	wantInt(t, c.do("CTR.GET", "ctr"), 1)
}

func TestServer_ArgumentErrors(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantErrPrefix(t, c.do("KV.GET", "ns"), "ERR SM-ARG-1001 wrong number of arguments")
	wantErrPrefix(t, c.do("KV.GET", "ns", "seven"), "ERR SM-ARG-1001 key is not an integer")
	wantErrPrefix(t, c.do("CTR.ADD", "ctr", "1.5"), "ERR SM-ARG-1001")
	wantErrPrefix(t, c.do("FLUSHALL"), "ERR unknown command 'FLUSHALL'")

	// The connection survives argument errors.
	wantSimple(t, c.do("PING"), "PONG")
}

func TestServer_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Secret = "s3cret"
	srv := New(cfg, memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantSimple(t, c.do("PING"), "PONG")
	wantErrPrefix(t, c.do("NS.OPEN", "ns"), "NOAUTH")
	wantErrPrefix(t, c.do("AUTH", "wrong"), "WRONGPASS")
	wantErrPrefix(t, c.do("NS.OPEN", "ns"), "NOAUTH")
	wantSimple(t, c.do("AUTH", "default", "s3cret"), "OK")
	wantSimple(t, c.do("NS.OPEN", "ns"), "OK")
}

func TestServer_AuthWithoutSecret(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantErrPrefix(t, c.do("AUTH", "anything"), "ERR AUTH called without")
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 1
	srv := New(cfg, memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	wantSimple(t, c.do("NS.OPEN", "ns"), "OK")
	wantErrPrefix(t, c.do("NS.OPEN", "ns"), "ERR rate limit exceeded")
}

func TestServer_ProtocolErrorClosesConnection(t *testing.T) {
	srv := New(testConfig(), memory.New(), nil, quietLogger())
	c := pipeClient(t, srv)

	c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write([]byte("*10000\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	rep, err := ReadReply(c.br)
	if err != nil {
		t.Fatalf("ReadReply() error = %v", err)
	}
	wantErrPrefix(t, rep, "ERR protocol limit exceeded")

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Error("connection not closed after protocol error")
	}
}

// notLeaderBackend fails every call like a Raft follower.
type notLeaderBackend struct{}

func (notLeaderBackend) Namespace(context.Context, string) (seqstore.Namespace, error) {
	return nil, domain.ErrNotLeader.WithDetails("10.0.0.1:7379")
}

func (notLeaderBackend) Counter(context.Context, string, int64) (seqstore.CounterPrimitive, error) {
	return nil, domain.ErrNotLeader.WithDetails("10.0.0.1:7379")
}

// plainErrBackend returns errors that are not domain errors.
type plainErrBackend struct{ notLeaderBackend }

func (plainErrBackend) Namespace(context.Context, string) (seqstore.Namespace, error) {
	return nil, errors.New("disk on fire")
}

func TestServer_ErrorReplies(t *testing.T) {
	reg := metric.NewRegistry()
	srv := New(testConfig(), notLeaderBackend{}, reg, quietLogger())
	c := pipeClient(t, srv)

	wantErrPrefix(t, c.do("NS.OPEN", "ns"), "NOTLEADER 10.0.0.1:7379")
	// Without Attacher the counter must be defined on this server first.
	wantErrPrefix(t, c.do("CTR.GET", "ctr"), "ERR SM-STORE-5001")

	if got := testutil.ToFloat64(reg.RESPCommands.WithLabelValues("NS.OPEN", metric.ResultUnavailable)); got != 1 {
		t.Errorf("unavailable NS.OPEN count = %v, want 1", got)
	}

	srv = New(testConfig(), plainErrBackend{}, nil, quietLogger())
	c = pipeClient(t, srv)
	wantErrPrefix(t, c.do("NS.OPEN", "ns"), "ERR SM-STORE-5030")
}

func TestServer_StartShutdown(t *testing.T) {
	reg := metric.NewRegistry()
	srv := New(testConfig(), memory.New(), reg, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	nc, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer nc.Close()

	c := &client{t: t, conn: nc, br: bufio.NewReader(nc), bw: bufio.NewWriter(nc)}
	wantSimple(t, c.do("PING"), "PONG")

	if got := testutil.ToFloat64(reg.RESPConnections); got != 1 {
		t.Errorf("active connections = %v, want 1", got)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// Open connections are closed by Shutdown.
	nc.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := nc.Read(make([]byte, 1)); err == nil {
		t.Error("connection should be closed after shutdown")
	}
	if got := testutil.ToFloat64(reg.RESPConnections); got != 0 {
		t.Errorf("active connections after shutdown = %v, want 0", got)
	}
}

func TestServer_StartDisabled(t *testing.T) {
	srv := New(&Config{}, memory.New(), nil, quietLogger())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() != nil {
		t.Error("no listener expected")
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestServer_TLSRequiresConfig(t *testing.T) {
	srv := New(&Config{TLSAddress: "127.0.0.1:0"}, memory.New(), nil, quietLogger())
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Start() should fail without TLS configuration")
	}
}
