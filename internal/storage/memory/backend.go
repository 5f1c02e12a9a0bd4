package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
	"github.com/yndnr/seqmesh-go/pkg/cmap"
)

// Backend is an in-memory seqstore.Backend.
type Backend struct {
	namespaces *cmap.Map[string, *namespace]
	counters   *cmap.Map[string, *counter]
	closed     atomic.Bool
}

type namespace struct {
	mu      sync.RWMutex
	entries map[int64]string
}

type counter struct {
	value   atomic.Int64
	initial int64
}

// New creates an empty backend.
func New() *Backend {
	return &Backend{
		namespaces: cmap.New[string, *namespace](),
		counters:   cmap.New[string, *counter](),
	}
}

// Close makes every subsequent operation fail with ErrStoreUnavailable.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return domain.ErrStoreUnavailable.WithDetails("memory backend closed")
	}
	if err := ctx.Err(); err != nil {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

// ============================================================================
// Name-addressed operations
// ============================================================================

// OpenNamespace creates the named namespace if absent and reports whether it
// was created.
func (b *Backend) OpenNamespace(name string) bool {
	_, existed := b.namespaces.GetOrSet(name, &namespace{entries: make(map[int64]string)})
	return !existed
}

func (b *Backend) ns(name string) *namespace {
	if n, ok := b.namespaces.Get(name); ok {
		return n
	}
	n, _ := b.namespaces.GetOrSet(name, &namespace{entries: make(map[int64]string)})
	return n
}

// Put stores value under key in the named namespace.
func (b *Backend) Put(name string, key int64, value string) bool {
	n := b.ns(name)
	n.mu.Lock()
	defer n.mu.Unlock()

	_, existed := n.entries[key]
	n.entries[key] = value
	return !existed
}

// PutIfAbsent stores value under key unless key exists.
func (b *Backend) PutIfAbsent(name string, key int64, value string) bool {
	n := b.ns(name)
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, existed := n.entries[key]; existed {
		return false
	}
	n.entries[key] = value
	return true
}

// Get returns the value under key.
func (b *Backend) Get(name string, key int64) (string, bool) {
	n, ok := b.namespaces.Get(name)
	if !ok {
		return "", false
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	v, ok := n.entries[key]
	return v, ok
}

// Range returns the entries with start <= key <= end in ascending order.
func (b *Backend) Range(name string, start, end int64) []seqstore.Entry {
	out := []seqstore.Entry{}
	if start > end {
		return out
	}

	n, ok := b.namespaces.Get(name)
	if !ok {
		return out
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	// Walk whichever side is smaller. The span is computed unsigned so that
	// extreme bounds cannot overflow, and the walk stops on end itself so
	// that end == MaxInt64 terminates.
	if span := uint64(end) - uint64(start); span < uint64(len(n.entries)) {
		for k := start; ; k++ {
			if v, ok := n.entries[k]; ok {
				out = append(out, seqstore.Entry{Key: k, Value: v})
			}
			if k == end {
				break
			}
		}
		return out
	}

	for k, v := range n.entries {
		if k >= start && k <= end {
			out = append(out, seqstore.Entry{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ClearNamespace removes every entry of the named namespace.
func (b *Backend) ClearNamespace(name string) {
	n, ok := b.namespaces.Get(name)
	if !ok {
		return
	}
	n.mu.Lock()
	n.entries = make(map[int64]string)
	n.mu.Unlock()
}

// DefineCounter creates the named counter with initial if absent, and
// reports whether it was created.
func (b *Backend) DefineCounter(name string, initial int64) bool {
	c := &counter{initial: initial}
	c.value.Store(initial)
	_, existed := b.counters.GetOrSet(name, c)
	return !existed
}

func (b *Backend) counter(name string) (*counter, error) {
	c, ok := b.counters.Get(name)
	if !ok {
		return nil, domain.ErrCorruptStore.WithDetailsf("counter %q is not defined", name)
	}
	return c, nil
}

// CounterValue returns the current value of the named counter.
func (b *Backend) CounterValue(name string) (int64, error) {
	c, err := b.counter(name)
	if err != nil {
		return 0, err
	}
	return c.value.Load(), nil
}

// CounterAdd adds delta to the named counter and returns the new value.
func (b *Backend) CounterAdd(name string, delta int64) (int64, error) {
	c, err := b.counter(name)
	if err != nil {
		return 0, err
	}
	return c.value.Add(delta), nil
}

// CounterCAS sets the named counter to update if it holds expect.
func (b *Backend) CounterCAS(name string, expect, update int64) (bool, error) {
	c, err := b.counter(name)
	if err != nil {
		return false, err
	}
	return c.value.CompareAndSwap(expect, update), nil
}

// CounterReset returns the named counter to its initial value.
func (b *Backend) CounterReset(name string) error {
	c, err := b.counter(name)
	if err != nil {
		return err
	}
	c.value.Store(c.initial)
	return nil
}

// ============================================================================
// seqstore.Backend
// ============================================================================

// Namespace implements seqstore.Backend.
func (b *Backend) Namespace(ctx context.Context, name string) (seqstore.Namespace, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	b.OpenNamespace(name)
	return &nsHandle{b: b, name: name}, nil
}

// Counter implements seqstore.Backend.
func (b *Backend) Counter(ctx context.Context, name string, initial int64) (seqstore.CounterPrimitive, error) {
	if err := b.check(ctx); err != nil {
		return nil, err
	}
	b.DefineCounter(name, initial)
	return &ctrHandle{b: b, name: name}, nil
}

// AttachNamespace implements seqstore.Attacher.
func (b *Backend) AttachNamespace(name string) seqstore.Namespace {
	return &nsHandle{b: b, name: name}
}

// AttachCounter implements seqstore.Attacher.
func (b *Backend) AttachCounter(name string) seqstore.CounterPrimitive {
	return &ctrHandle{b: b, name: name}
}

type nsHandle struct {
	b    *Backend
	name string
}

func (h *nsHandle) Put(ctx context.Context, key int64, value string) (bool, error) {
	if err := h.b.check(ctx); err != nil {
		return false, err
	}
	return h.b.Put(h.name, key, value), nil
}

func (h *nsHandle) PutIfAbsent(ctx context.Context, key int64, value string) (bool, error) {
	if err := h.b.check(ctx); err != nil {
		return false, err
	}
	return h.b.PutIfAbsent(h.name, key, value), nil
}

func (h *nsHandle) Get(ctx context.Context, key int64) (string, bool, error) {
	if err := h.b.check(ctx); err != nil {
		return "", false, err
	}
	v, ok := h.b.Get(h.name, key)
	return v, ok, nil
}

func (h *nsHandle) GetRange(ctx context.Context, start, end int64) ([]seqstore.Entry, error) {
	if err := h.b.check(ctx); err != nil {
		return nil, err
	}
	return h.b.Range(h.name, start, end), nil
}

func (h *nsHandle) Clear(ctx context.Context) error {
	if err := h.b.check(ctx); err != nil {
		return err
	}
	h.b.ClearNamespace(h.name)
	return nil
}

type ctrHandle struct {
	b    *Backend
	name string
}

func (h *ctrHandle) Value(ctx context.Context) (int64, error) {
	if err := h.b.check(ctx); err != nil {
		return 0, err
	}
	return h.b.CounterValue(h.name)
}

func (h *ctrHandle) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	if err := h.b.check(ctx); err != nil {
		return 0, err
	}
	return h.b.CounterAdd(h.name, delta)
}

func (h *ctrHandle) CompareAndSwap(ctx context.Context, expect, update int64) (bool, error) {
	if err := h.b.check(ctx); err != nil {
		return false, err
	}
	return h.b.CounterCAS(h.name, expect, update)
}

func (h *ctrHandle) Reset(ctx context.Context) error {
	if err := h.b.check(ctx); err != nil {
		return err
	}
	return h.b.CounterReset(h.name)
}
