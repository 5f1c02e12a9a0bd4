// Package seqstoretest provides a behavioural test suite that every
// seqstore.Backend implementation runs.
package seqstoretest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/internal/telemetry/logger"
)

// NewBackend returns a fresh, empty backend. Cleanup should be registered
// with t.Cleanup.
type NewBackend func(t *testing.T) seqstore.Backend

// Concurrency is the number of goroutines used by the concurrent cases.
const Concurrency = 16

// Run runs the full suite against backends created by newBackend.
func Run(t *testing.T, newBackend NewBackend) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, b seqstore.Backend)
	}{
		{"FreshStore", testFreshStore},
		{"RoundTrip", testRoundTrip},
		{"FirstWriteDetection", testFirstWriteDetection},
		{"SparseRange", testSparseRange},
		{"RangeEdges", testRangeEdges},
		{"CounterMonotonic", testCounterMonotonic},
		{"SetNextValidation", testSetNextValidation},
		{"ConcurrentIncrements", testConcurrentIncrements},
		{"ConcurrentSetNext", testConcurrentSetNext},
		{"ResetPreservesCreationTime", testResetPreservesCreationTime},
		{"ReprovisionKeepsData", testReprovisionKeepsData},
		{"SessionsAreIsolated", testSessionsAreIsolated},
		{"CancelledContext", testCancelledContext},
		{"Refresh", testRefresh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newBackend(t))
		})
	}
}

// SessionID is the session used by the suite.
var SessionID = domain.NewSessionID("FIX.4.4", "SENDER", "TARGET")

// Factory returns a quiet factory over b.
func Factory(b seqstore.Backend) *seqstore.Factory {
	return seqstore.NewFactory(b, seqstore.Options{
		OpTimeout: 5 * time.Second,
		Logger:    logger.Discard(),
	})
}

func mustCreate(t *testing.T, b seqstore.Backend, sid domain.SessionID) *seqstore.SessionStore {
	t.Helper()
	s, err := Factory(b).Create(context.Background(), sid)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", sid, err)
	}
	return s
}

func mustNext(t *testing.T, s *seqstore.SessionStore) (sender, target int) {
	t.Helper()
	ctx := context.Background()
	sender, err := s.NextSenderMsgSeqNum(ctx)
	if err != nil {
		t.Fatalf("NextSenderMsgSeqNum() error = %v", err)
	}
	target, err = s.NextTargetMsgSeqNum(ctx)
	if err != nil {
		t.Fatalf("NextTargetMsgSeqNum() error = %v", err)
	}
	return sender, target
}

func mustGet(t *testing.T, s *seqstore.SessionStore, start, end int) []string {
	t.Helper()
	got, err := s.Get(context.Background(), start, end, nil)
	if err != nil {
		t.Fatalf("Get(%d, %d) error = %v", start, end, err)
	}
	return got
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testFreshStore(t *testing.T, b seqstore.Backend) {
	before := time.Now().Add(-time.Second)
	s := mustCreate(t, b, SessionID)

	if sender, target := mustNext(t, s); sender != 1 || target != 1 {
		t.Errorf("fresh counters = (%d, %d), want (1, 1)", sender, target)
	}

	created, err := s.CreationTime(context.Background())
	if err != nil {
		t.Fatalf("CreationTime() error = %v", err)
	}
	if created.Before(before) || created.After(time.Now().Add(time.Second)) {
		t.Errorf("CreationTime() = %v, not near now", created)
	}

	if got := mustGet(t, s, 1, 100); len(got) != 0 {
		t.Errorf("fresh log = %v, want empty", got)
	}
	if s.SessionID() != SessionID {
		t.Errorf("SessionID() = %v", s.SessionID())
	}
}

func testRoundTrip(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	msg := "8=FIX.4.4\x019=5\x0135=0\x0110=000\x01"
	if _, err := s.Set(ctx, 1, msg); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got := mustGet(t, s, 1, 1)
	if !equal(got, []string{msg}) {
		t.Errorf("Get(1, 1) = %q, want [%q]", got, msg)
	}

	// Appends to the caller's slice.
	prefix := []string{"existing"}
	got, err := s.Get(ctx, 1, 1, prefix)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !equal(got, []string{"existing", msg}) {
		t.Errorf("Get() with prefix = %q", got)
	}
}

func testFirstWriteDetection(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	inserted, err := s.Set(ctx, 7, "first")
	if err != nil || !inserted {
		t.Fatalf("first Set() = (%v, %v), want (true, nil)", inserted, err)
	}
	inserted, err = s.Set(ctx, 7, "second")
	if err != nil || inserted {
		t.Fatalf("second Set() = (%v, %v), want (false, nil)", inserted, err)
	}

	if got := mustGet(t, s, 7, 7); !equal(got, []string{"second"}) {
		t.Errorf("Get(7, 7) = %q, want [second]", got)
	}
}

func testSparseRange(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	for _, seq := range []int{5, 1, 3} {
		if _, err := s.Set(ctx, seq, fmt.Sprintf("m%d", seq)); err != nil {
			t.Fatalf("Set(%d) error = %v", seq, err)
		}
	}

	tests := []struct {
		start, end int
		want       []string
	}{
		{1, 5, []string{"m1", "m3", "m5"}},
		{2, 4, []string{"m3"}},
		{6, 10, []string{}},
		{5, 5, []string{"m5"}},
	}
	for _, tt := range tests {
		if got := mustGet(t, s, tt.start, tt.end); !equal(got, tt.want) {
			t.Errorf("Get(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}

func testRangeEdges(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	if _, err := s.Set(ctx, 1, "m1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := s.Get(ctx, 5, 1, nil)
	if err != nil {
		t.Fatalf("Get(5, 1) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get(5, 1) = %q, want empty", got)
	}

	// The creation time entry is never returned as a message.
	if got := mustGet(t, s, -10, 1); !equal(got, []string{"m1"}) {
		t.Errorf("Get(-10, 1) = %q, want [m1]", got)
	}

	if _, err := s.Set(ctx, 0, "bad"); !errors.Is(err, domain.ErrSeqNumOutOfRange) {
		t.Errorf("Set(0) error = %v, want ErrSeqNumOutOfRange", err)
	}
	if _, err := s.CreationTime(ctx); err != nil {
		t.Errorf("CreationTime() after rejected Set(0) error = %v", err)
	}
}

func testCounterMonotonic(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	for i := 0; i < 5; i++ {
		if err := s.IncrNextSenderMsgSeqNum(ctx); err != nil {
			t.Fatalf("IncrNextSenderMsgSeqNum() error = %v", err)
		}
	}
	if err := s.IncrNextTargetMsgSeqNum(ctx); err != nil {
		t.Fatalf("IncrNextTargetMsgSeqNum() error = %v", err)
	}
	if sender, target := mustNext(t, s); sender != 6 || target != 2 {
		t.Errorf("counters = (%d, %d), want (6, 2)", sender, target)
	}

	if err := s.SetNextSenderMsgSeqNum(ctx, 100); err != nil {
		t.Fatalf("SetNextSenderMsgSeqNum() error = %v", err)
	}
	if err := s.SetNextTargetMsgSeqNum(ctx, 42); err != nil {
		t.Fatalf("SetNextTargetMsgSeqNum() error = %v", err)
	}
	if err := s.IncrNextSenderMsgSeqNum(ctx); err != nil {
		t.Fatalf("IncrNextSenderMsgSeqNum() error = %v", err)
	}
	if sender, target := mustNext(t, s); sender != 101 || target != 42 {
		t.Errorf("counters = (%d, %d), want (101, 42)", sender, target)
	}

	// Setting to the current value is a no-op.
	if err := s.SetNextTargetMsgSeqNum(ctx, 42); err != nil {
		t.Errorf("SetNextTargetMsgSeqNum(current) error = %v", err)
	}
}

func testSetNextValidation(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	for _, n := range []int{0, -1} {
		if err := s.SetNextSenderMsgSeqNum(ctx, n); !errors.Is(err, domain.ErrSeqNumOutOfRange) {
			t.Errorf("SetNextSenderMsgSeqNum(%d) error = %v, want ErrSeqNumOutOfRange", n, err)
		}
	}

	if err := s.SetNextSenderMsgSeqNum(ctx, int(domain.MaxSeqNum)); err != nil {
		t.Fatalf("SetNextSenderMsgSeqNum(max) error = %v", err)
	}
	if err := s.IncrNextSenderMsgSeqNum(ctx); !errors.Is(err, domain.ErrSeqNumOutOfRange) {
		t.Errorf("increment past max error = %v, want ErrSeqNumOutOfRange", err)
	}
	got, err := s.NextSenderMsgSeqNum(ctx)
	if err != nil {
		t.Fatalf("NextSenderMsgSeqNum() after overflow error = %v", err)
	}
	if got != int(domain.MaxSeqNum) {
		t.Errorf("NextSenderMsgSeqNum() after overflow = %d, want %d", got, domain.MaxSeqNum)
	}
}

// testConcurrentIncrements drives one counter from several independently
// provisioned stores and checks that every increment observed a distinct
// value in 2..N+1.
func testConcurrentIncrements(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	mustCreate(t, b, SessionID)

	name := SessionID.CounterName(domain.RoleSender)

	var (
		mu   sync.Mutex
		seen []int64
		wg   sync.WaitGroup
	)
	errs := make(chan error, Concurrency)

	for i := 0; i < Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prim, err := b.Counter(ctx, name, domain.MinSeqNum)
			if err != nil {
				errs <- err
				return
			}
			v, err := seqstore.NewCounter(name, prim, 0, nil).Increment(ctx)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			seen = append(seen, v)
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent Increment() error = %v", err)
	}

	sort.Slice(seen, func(i, j int) bool { return seen[i] < seen[j] })
	for i, v := range seen {
		if v != int64(i+2) {
			t.Fatalf("increment results = %v, want 2..%d", seen, Concurrency+1)
		}
	}

	s := mustCreate(t, b, SessionID)
	if sender, _ := mustNext(t, s); sender != Concurrency+1 {
		t.Errorf("NextSenderMsgSeqNum() = %d, want %d", sender, Concurrency+1)
	}
}

func testConcurrentSetNext(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()

	stores := make([]*seqstore.SessionStore, Concurrency)
	for i := range stores {
		stores[i] = mustCreate(t, b, SessionID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*Concurrency)
	for i, s := range stores {
		wg.Add(1)
		go func(i int, s *seqstore.SessionStore) {
			defer wg.Done()
			// Interleave increments so the compare-and-set loop has
			// something to lose against.
			if i%2 == 0 {
				errs <- s.IncrNextTargetMsgSeqNum(ctx)
			}
			errs <- s.SetNextTargetMsgSeqNum(ctx, 10)
		}(i, s)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent SetNext error = %v", err)
		}
	}

	// Every SetNext succeeded after every increment that preceded it in its
	// own goroutine, but increments from other goroutines may land after.
	// Re-run one SetNext with no competition to pin the final value.
	if err := stores[0].SetNextTargetMsgSeqNum(ctx, 10); err != nil {
		t.Fatalf("SetNextTargetMsgSeqNum() error = %v", err)
	}
	for _, s := range stores {
		if _, target := mustNext(t, s); target != 10 {
			t.Fatalf("NextTargetMsgSeqNum() = %d, want 10", target)
		}
	}
}

func testResetPreservesCreationTime(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	s := mustCreate(t, b, SessionID)

	created, err := s.CreationTime(ctx)
	if err != nil {
		t.Fatalf("CreationTime() error = %v", err)
	}

	for seq := 1; seq <= 3; seq++ {
		if _, err := s.Set(ctx, seq, "m"); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
	if err := s.SetNextSenderMsgSeqNum(ctx, 4); err != nil {
		t.Fatalf("SetNextSenderMsgSeqNum() error = %v", err)
	}
	if err := s.SetNextTargetMsgSeqNum(ctx, 9); err != nil {
		t.Fatalf("SetNextTargetMsgSeqNum() error = %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if sender, target := mustNext(t, s); sender != 1 || target != 1 {
		t.Errorf("counters after reset = (%d, %d), want (1, 1)", sender, target)
	}
	if got := mustGet(t, s, 1, 10); len(got) != 0 {
		t.Errorf("log after reset = %q, want empty", got)
	}

	after, err := s.CreationTime(ctx)
	if err != nil {
		t.Fatalf("CreationTime() after reset error = %v", err)
	}
	if !after.Equal(created) {
		t.Errorf("CreationTime() after reset = %v, want %v", after, created)
	}
}

func testReprovisionKeepsData(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	first := mustCreate(t, b, SessionID)

	created, err := first.CreationTime(ctx)
	if err != nil {
		t.Fatalf("CreationTime() error = %v", err)
	}
	if _, err := first.Set(ctx, 1, "kept"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := first.SetNextSenderMsgSeqNum(ctx, 2); err != nil {
		t.Fatalf("SetNextSenderMsgSeqNum() error = %v", err)
	}

	// Creation time has millisecond resolution.
	time.Sleep(5 * time.Millisecond)

	second := mustCreate(t, b, SessionID)
	if sender, _ := mustNext(t, second); sender != 2 {
		t.Errorf("sender after reprovision = %d, want 2", sender)
	}
	if got := mustGet(t, second, 1, 1); !equal(got, []string{"kept"}) {
		t.Errorf("log after reprovision = %q", got)
	}
	again, err := second.CreationTime(ctx)
	if err != nil {
		t.Fatalf("CreationTime() error = %v", err)
	}
	if !again.Equal(created) {
		t.Errorf("reprovision changed creation time from %v to %v", created, again)
	}
}

func testSessionsAreIsolated(t *testing.T, b seqstore.Backend) {
	ctx := context.Background()
	a := mustCreate(t, b, SessionID)
	other := mustCreate(t, b, domain.NewSessionID("FIX.4.4", "TARGET", "SENDER"))

	if _, err := a.Set(ctx, 1, "a"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := a.IncrNextSenderMsgSeqNum(ctx); err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if err := other.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if got := mustGet(t, other, 1, 1); len(got) != 0 {
		t.Errorf("other session log = %q, want empty", got)
	}
	if got := mustGet(t, a, 1, 1); !equal(got, []string{"a"}) {
		t.Errorf("session log after other reset = %q", got)
	}
	if sender, _ := mustNext(t, a); sender != 2 {
		t.Errorf("sender after other reset = %d, want 2", sender)
	}
}

func testCancelledContext(t *testing.T, b seqstore.Backend) {
	s := mustCreate(t, b, SessionID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if _, err := s.NextSenderMsgSeqNum(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("NextSenderMsgSeqNum(cancelled) error = %v, want ErrStoreUnavailable", err)
	}
	if _, err := s.Set(ctx, 1, "m"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Set(cancelled) error = %v, want ErrStoreUnavailable", err)
	}
	if err := s.SetNextSenderMsgSeqNum(ctx, 5); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("SetNextSenderMsgSeqNum(cancelled) error = %v, want ErrStoreUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancelled operations took %v", elapsed)
	}
}

func testRefresh(t *testing.T, b seqstore.Backend) {
	s := mustCreate(t, b, SessionID)
	if err := s.Refresh(context.Background()); err != nil {
		t.Errorf("Refresh() error = %v", err)
	}
}
