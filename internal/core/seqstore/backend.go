package seqstore

import "context"

// Entry is one key/value pair of a Namespace.
type Entry struct {
	Key   int64
	Value string
}

// Backend is the shared substrate a SessionStore is built on.
//
// Implementations must be safe for concurrent use and guarantee per-key
// atomicity for every method of the primitives they return. Failures should
// be reported as domain.ErrStoreUnavailable or domain.ErrCorruptStore; any
// other error is classified as unavailable by this package.
type Backend interface {
	// Namespace opens the named key/value namespace, creating it if absent.
	Namespace(ctx context.Context, name string) (Namespace, error)

	// Counter attaches to the named counter, defining it with initial if
	// absent. An existing counter keeps its current value.
	Counter(ctx context.Context, name string, initial int64) (CounterPrimitive, error)
}

// Namespace is an ordered map from int64 keys to string values.
type Namespace interface {
	// Put stores value under key and reports whether the key was absent.
	Put(ctx context.Context, key int64, value string) (inserted bool, err error)

	// PutIfAbsent stores value only if key is absent.
	PutIfAbsent(ctx context.Context, key int64, value string) (inserted bool, err error)

	// Get returns the value under key.
	Get(ctx context.Context, key int64) (value string, found bool, err error)

	// GetRange returns the entries with start <= key <= end in ascending key
	// order. Missing keys are skipped.
	GetRange(ctx context.Context, start, end int64) ([]Entry, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// CounterPrimitive is a strongly consistent int64 counter.
type CounterPrimitive interface {
	Value(ctx context.Context) (int64, error)
	AddAndGet(ctx context.Context, delta int64) (int64, error)
	CompareAndSwap(ctx context.Context, expect, update int64) (swapped bool, err error)

	// Reset sets the counter back to the value it was defined with.
	Reset(ctx context.Context) error
}

// Closer is implemented by backends that hold resources.
type Closer interface {
	Close() error
}

// Attacher is implemented by backends whose primitives are addressed by
// name alone. Attach does no I/O and never creates anything: operations on
// a counter that was never defined fail with domain.ErrCorruptStore.
type Attacher interface {
	AttachNamespace(name string) Namespace
	AttachCounter(name string) CounterPrimitive
}
