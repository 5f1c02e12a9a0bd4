package storage

import (
	"context"
	"errors"
	"io"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("kv engine closed")
)

// UpdateFunc computes the next value of a key from its current value.
// current is nil when the key is absent. Returning write=false leaves the
// key untouched.
type UpdateFunc func(current []byte, found bool) (next []byte, write bool, err error)

// KVEngine defines the interface for embedded key-value storage.
//
// Implementation requirements:
//   - Thread-safe: concurrent reads/writes must be safe
//   - Durable: data must survive process restarts
//   - Atomic: Update, SetIfAbsent and Swap are linearizable per key
type KVEngine interface {
	// Get retrieves a value by key.
	// Returns ErrKeyNotFound if key doesn't exist.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair.
	Set(ctx context.Context, key, value []byte) error

	// Swap stores a key-value pair and reports whether the key existed.
	Swap(ctx context.Context, key, value []byte) (existed bool, err error)

	// SetIfAbsent stores a key-value pair only if the key is absent.
	SetIfAbsent(ctx context.Context, key, value []byte) (set bool, err error)

	// Update atomically applies fn to the current value of key.
	Update(ctx context.Context, key []byte, fn UpdateFunc) error

	// Delete removes a key.
	Delete(ctx context.Context, key []byte) error

	// DeletePrefix removes every key with the given prefix.
	DeletePrefix(ctx context.Context, prefix []byte) error

	// Scan iterates in key order over keys with the given prefix, starting
	// at from (or the first such key when from is nil).
	// Callback returns false to stop iteration.
	Scan(ctx context.Context, prefix, from []byte, fn func(key, value []byte) bool) error

	// Backup writes a full backup of the store to w.
	Backup(ctx context.Context, w io.Writer) error

	// Restore loads a backup produced by Backup.
	Restore(ctx context.Context, r io.Reader) error

	// GC triggers garbage collection (for LSM-based engines like Badger).
	// Returns bytes reclaimed.
	GC(ctx context.Context) (uint64, error)

	// Stats returns storage statistics (size, keys count, etc.).
	Stats(ctx context.Context) (*KVStats, error)

	// Close gracefully shuts down the KV engine.
	Close() error
}

// KVStats contains storage engine statistics.
type KVStats struct {
	// TotalSize is the total disk usage in bytes.
	TotalSize uint64 `json:"total_size"`

	// LSMSize is the LSM tree size.
	LSMSize uint64 `json:"lsm_size"`

	// ValueLogSize is the value log size.
	ValueLogSize uint64 `json:"value_log_size"`

	// LastGCTime is the last GC run timestamp (Unix milliseconds).
	LastGCTime int64 `json:"last_gc_time"`

	// GCRuns is the number of value log files rewritten by GC.
	GCRuns uint64 `json:"gc_runs"`
}

// KVConfig configures an embedded KV engine.
type KVConfig struct {
	// Dir is the storage directory.
	Dir string

	// InMemory runs Badger without touching disk. Dir is ignored.
	InMemory bool

	// Badger-specific configuration
	Badger BadgerConfig
}

// BadgerConfig contains Badger-specific tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between automatic GC runs.
	// Default: 10m
	GCInterval string

	// GCThreshold is the GC discard ratio threshold (0.0-1.0).
	// Default: 0.5 (run GC when 50% of data is stale)
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	// Default: 64MB
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	// Default: 256MB
	ValueLogFileSize int64

	// NumMemtables is the number of memtables.
	// Default: 2
	NumMemtables int

	// SyncWrites enables sync writes (fsync after each write).
	// Default: true. A message store acknowledges a write only once it is
	// on disk.
	SyncWrites bool

	// MaxRetries bounds conflict retries of Update.
	// Default: 64
	MaxRetries int
}

// DefaultKVConfig returns the default KV configuration.
func DefaultKVConfig(dir string) KVConfig {
	return KVConfig{
		Dir:    dir,
		Badger: DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:       "10m",
		GCThreshold:      0.5,
		CacheSize:        64 << 20,  // 64MB
		ValueLogFileSize: 256 << 20, // 256MB
		NumMemtables:     2,
		SyncWrites:       true,
		MaxRetries:       64,
	}
}
