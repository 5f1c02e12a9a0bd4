package tests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/server/clusterserver"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
)

var sid = domain.SessionID{BeginString: "FIX.4.4", SenderCompID: "OMS", TargetCompID: "VENUE"}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

type testNode struct {
	id        string
	serveAddr string
	node      *clusterserver.Node
}

func startNode(t *testing.T, id string, bootstrap bool, seeds []string) (*testNode, string) {
	t.Helper()

	gossip := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	serve := fmt.Sprintf("127.0.0.1:%d", freePort(t))
	n, err := clusterserver.StartNode(clusterserver.NodeConfig{
		NodeID:     id,
		RaftAddr:   fmt.Sprintf("127.0.0.1:%d", freePort(t)),
		DataDir:    filepath.Join(t.TempDir(), id),
		Bootstrap:  bootstrap,
		GossipAddr: gossip,
		Seeds:      seeds,
		ServeAddr:  serve,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)).With("node", id),
	})
	if err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	return &testNode{id: id, serveAddr: serve, node: n}, gossip
}

func factory(n *testNode) *seqstore.Factory {
	return seqstore.NewFactory(n.node.Backend(), seqstore.Options{
		OpTimeout: 5 * time.Second,
		Logger:    logger.Discard(),
	})
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func leaderOf(nodes []*testNode) *testNode {
	for _, n := range nodes {
		if n.node.IsLeader() {
			return n
		}
	}
	return nil
}

// TestCluster_ThreeNode starts three raft nodes joined by gossip and checks
// replication, follower redirects and leader failover.
func TestCluster_ThreeNode(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cluster integration test in short mode")
	}

	n1, seed := startNode(t, "node-1", true, nil)
	t.Cleanup(func() { n1.node.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := n1.node.WaitForLeader(ctx); err != nil {
		t.Fatalf("bootstrap node never led: %v", err)
	}

	n2, _ := startNode(t, "node-2", false, []string{seed})
	t.Cleanup(func() { n2.node.Close() })
	n3, _ := startNode(t, "node-3", false, []string{seed})
	t.Cleanup(func() { n3.node.Close() })
	nodes := []*testNode{n1, n2, n3}

	// The leader reconciles gossip members into the raft configuration.
	eventually(t, 30*time.Second, "three recorded members", func() bool {
		return len(n1.node.Status().Members) == 3
	})

	store, err := factory(n1).Create(ctx, sid)
	if err != nil {
		t.Fatalf("Create on leader: %v", err)
	}
	created, err := store.CreationTime(ctx)
	if err != nil {
		t.Fatal(err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.IncrNextSenderMsgSeqNum(ctx); err != nil {
				t.Errorf("Incr: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := store.Set(ctx, 1, "8=FIX.4.4\x0135=A\x01"); err != nil {
		t.Fatal(err)
	}

	t.Run("follower redirects", func(t *testing.T) {
		_, err := factory(n2).Create(ctx, sid)
		if !domain.IsDomainError(err, domain.ErrNotLeader.Code) {
			t.Fatalf("Create on follower error = %v, want NotLeader", err)
		}
		if !domain.IsUnavailable(err) {
			t.Error("NotLeader should also count as unavailable")
		}

		// The leader's serve address reaches followers through the log.
		eventually(t, 10*time.Second, "redirect to the leader", func() bool {
			_, err := factory(n2).Create(ctx, sid)
			var de *domain.DomainError
			return errors.As(err, &de) && de.Details == n1.serveAddr
		})
	})

	t.Run("leader failover", func(t *testing.T) {
		if err := n1.node.Close(); err != nil {
			t.Fatalf("close leader: %v", err)
		}

		var next *testNode
		eventually(t, 30*time.Second, "a new leader", func() bool {
			next = leaderOf(nodes[1:])
			return next != nil
		})

		// Read through attached handles before anything is written on the
		// new leader, so no write of ours pushes its FSM forward first.
		backend := next.node.Backend()
		readCtx, readCancel := context.WithTimeout(ctx, 10*time.Second)
		defer readCancel()
		v, err := backend.AttachCounter(sid.CounterName(domain.RoleSender)).Value(readCtx)
		if err != nil {
			t.Fatalf("counter read on new leader: %v", err)
		}
		if v != writers+1 {
			t.Errorf("next sender after failover = %d, want %d", v, writers+1)
		}
		entries, err := backend.AttachNamespace(sid.NamespaceName()).GetRange(readCtx, 1, 1)
		if err != nil || len(entries) != 1 {
			t.Errorf("messages after failover = %v, %v", entries, err)
		}

		s, err := factory(next).Create(ctx, sid)
		if err != nil {
			t.Fatalf("Create on new leader: %v", err)
		}
		got, err := s.NextSenderMsgSeqNum(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if got != writers+1 {
			t.Errorf("next sender after re-provisioning = %d, want %d", got, writers+1)
		}
		after, err := s.CreationTime(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !after.Equal(created) {
			t.Errorf("creation time changed across failover: %v -> %v", created, after)
		}
	})
}
