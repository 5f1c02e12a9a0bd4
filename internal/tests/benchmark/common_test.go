package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/server/respserver"
	"github.com/yndnr/seqmesh-go/internal/storage"
	"github.com/yndnr/seqmesh-go/internal/storage/memory"
	"github.com/yndnr/seqmesh-go/internal/storage/remote"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
)

// substrate builds a fresh backend for one benchmark.
type substrate struct {
	name string
	open func(tb testing.TB) seqstore.Backend
}

var substrates = []substrate{
	{"memory", func(testing.TB) seqstore.Backend { return memory.New() }},
	{"badger", openBadger},
	{"remote", openRemote},
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openBadger(tb testing.TB) seqstore.Backend {
	tb.Helper()
	kv := storage.DefaultKVConfig(tb.TempDir())
	// Benchmarks measure the store, not fsync.
	kv.Badger.SyncWrites = false
	engine, err := storage.NewBadgerEngine(kv, quietLogger())
	if err != nil {
		tb.Fatal(err)
	}
	b := storage.NewKVBackend(engine)
	tb.Cleanup(func() { b.Close() })
	return b
}

func openRemote(tb testing.TB) seqstore.Backend {
	tb.Helper()
	srv := respserver.New(&respserver.Config{
		Address:      "127.0.0.1:0",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  time.Minute,
	}, memory.New(), nil, quietLogger())
	if err := srv.Start(context.Background()); err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	client, err := remote.New(remote.Config{Addr: srv.Addr().String(), PoolSize: 16, Logger: quietLogger()})
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { client.Close() })
	return client
}

func newStore(tb testing.TB, backend seqstore.Backend, n int) *seqstore.SessionStore {
	tb.Helper()
	sid := domain.SessionID{
		BeginString:  "FIX.4.4",
		SenderCompID: fmt.Sprintf("BENCH%d", n),
		TargetCompID: "VENUE",
	}
	s, err := seqstore.NewFactory(backend, seqstore.Options{Logger: logger.Discard()}).
		Create(context.Background(), sid)
	if err != nil {
		tb.Fatal(err)
	}
	return s
}

// fixMessage returns a NewOrderSingle of roughly size bytes.
func fixMessage(seq, size int) string {
	head := fmt.Sprintf("8=FIX.4.4\x019=000\x0135=D\x0134=%d\x0149=BENCH\x0156=VENUE\x01", seq)
	if pad := size - len(head) - 7; pad > 0 {
		head += "58=" + strings.Repeat("x", pad) + "\x01"
	}
	return head + "10=000\x01"
}
