package storage

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
)

// Key space tags.
const (
	tagNamespace byte = 'm'
	tagEntry     byte = 'n'
	tagCounter   byte = 'c'
)

// KVBackend implements seqstore.Backend on a KVEngine.
type KVBackend struct {
	engine KVEngine
}

// NewKVBackend creates a backend on engine. The backend owns the engine and
// closes it on Close.
func NewKVBackend(engine KVEngine) *KVBackend {
	return &KVBackend{engine: engine}
}

// Engine returns the underlying engine.
func (b *KVBackend) Engine() KVEngine {
	return b.engine
}

// Close closes the underlying engine.
func (b *KVBackend) Close() error {
	return b.engine.Close()
}

// Namespace implements seqstore.Backend.
func (b *KVBackend) Namespace(ctx context.Context, name string) (seqstore.Namespace, error) {
	if _, err := b.engine.SetIfAbsent(ctx, namedKey(tagNamespace, name), []byte{}); err != nil {
		return nil, mapErr(err)
	}
	return &kvNamespace{engine: b.engine, prefix: namedKey(tagEntry, name)}, nil
}

// Counter implements seqstore.Backend.
func (b *KVBackend) Counter(ctx context.Context, name string, initial int64) (seqstore.CounterPrimitive, error) {
	key := counterKey(name)
	if _, err := b.engine.SetIfAbsent(ctx, key, encodeCounter(initial, initial)); err != nil {
		return nil, mapErr(err)
	}
	return &kvCounter{engine: b.engine, name: name, key: key}, nil
}

// AttachNamespace implements seqstore.Attacher.
func (b *KVBackend) AttachNamespace(name string) seqstore.Namespace {
	return &kvNamespace{engine: b.engine, prefix: namedKey(tagEntry, name)}
}

// AttachCounter implements seqstore.Attacher.
func (b *KVBackend) AttachCounter(name string) seqstore.CounterPrimitive {
	return &kvCounter{engine: b.engine, name: name, key: counterKey(name)}
}

// ============================================================================
// Namespace
// ============================================================================

type kvNamespace struct {
	engine KVEngine
	prefix []byte
}

func (n *kvNamespace) key(k int64) []byte {
	out := make([]byte, len(n.prefix)+8)
	copy(out, n.prefix)
	binary.BigEndian.PutUint64(out[len(n.prefix):], orderedKey(k))
	return out
}

func (n *kvNamespace) Put(ctx context.Context, key int64, value string) (bool, error) {
	existed, err := n.engine.Swap(ctx, n.key(key), []byte(value))
	if err != nil {
		return false, mapErr(err)
	}
	return !existed, nil
}

func (n *kvNamespace) PutIfAbsent(ctx context.Context, key int64, value string) (bool, error) {
	set, err := n.engine.SetIfAbsent(ctx, n.key(key), []byte(value))
	if err != nil {
		return false, mapErr(err)
	}
	return set, nil
}

func (n *kvNamespace) Get(ctx context.Context, key int64) (string, bool, error) {
	v, err := n.engine.Get(ctx, n.key(key))
	if errors.Is(err, ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, mapErr(err)
	}
	return string(v), true, nil
}

func (n *kvNamespace) GetRange(ctx context.Context, start, end int64) ([]seqstore.Entry, error) {
	out := []seqstore.Entry{}
	if start > end {
		return out, nil
	}

	var decodeErr error
	err := n.engine.Scan(ctx, n.prefix, n.key(start), func(key, value []byte) bool {
		if len(key) != len(n.prefix)+8 {
			decodeErr = domain.ErrCorruptStore.WithDetailsf("malformed entry key %x", key)
			return false
		}
		k := int64(binary.BigEndian.Uint64(key[len(n.prefix):]) ^ signBit)
		if k > end {
			return false
		}
		out = append(out, seqstore.Entry{Key: k, Value: string(value)})
		return true
	})
	if err != nil {
		return nil, mapErr(err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func (n *kvNamespace) Clear(ctx context.Context) error {
	return mapErr(n.engine.DeletePrefix(ctx, n.prefix))
}

// ============================================================================
// Counter
// ============================================================================

type kvCounter struct {
	engine KVEngine
	name   string
	key    []byte
}

func (c *kvCounter) Value(ctx context.Context) (int64, error) {
	raw, err := c.engine.Get(ctx, c.key)
	if errors.Is(err, ErrKeyNotFound) {
		return 0, c.missing()
	}
	if err != nil {
		return 0, mapErr(err)
	}
	v, _, err := c.decode(raw)
	return v, err
}

func (c *kvCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	var result int64
	err := c.engine.Update(ctx, c.key, func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, c.missing()
		}
		v, initial, err := c.decode(current)
		if err != nil {
			return nil, false, err
		}
		result = v + delta
		return encodeCounter(result, initial), true, nil
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return result, nil
}

func (c *kvCounter) CompareAndSwap(ctx context.Context, expect, update int64) (bool, error) {
	var swapped bool
	err := c.engine.Update(ctx, c.key, func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, c.missing()
		}
		v, initial, err := c.decode(current)
		if err != nil {
			return nil, false, err
		}
		swapped = v == expect
		return encodeCounter(update, initial), swapped, nil
	})
	if err != nil {
		return false, mapErr(err)
	}
	return swapped, nil
}

func (c *kvCounter) Reset(ctx context.Context) error {
	err := c.engine.Update(ctx, c.key, func(current []byte, found bool) ([]byte, bool, error) {
		if !found {
			return nil, false, c.missing()
		}
		_, initial, err := c.decode(current)
		if err != nil {
			return nil, false, err
		}
		return encodeCounter(initial, initial), true, nil
	})
	return mapErr(err)
}

func (c *kvCounter) missing() error {
	return domain.ErrCorruptStore.WithDetailsf("counter %q is not defined", c.name)
}

func (c *kvCounter) decode(raw []byte) (value, initial int64, err error) {
	if len(raw) != 16 {
		return 0, 0, domain.ErrCorruptStore.WithDetailsf("counter %q: %d byte record", c.name, len(raw))
	}
	return int64(binary.BigEndian.Uint64(raw[:8])), int64(binary.BigEndian.Uint64(raw[8:])), nil
}

// ============================================================================
// Encoding
// ============================================================================

// signBit flips the sign so that big-endian byte order matches int64 order.
const signBit = uint64(1) << 63

func orderedKey(k int64) uint64 {
	return uint64(k) ^ signBit
}

func namedKey(tag byte, name string) []byte {
	out := make([]byte, 5+len(name))
	out[0] = tag
	binary.BigEndian.PutUint32(out[1:5], uint32(len(name)))
	copy(out[5:], name)
	return out
}

func counterKey(name string) []byte {
	return append([]byte{tagCounter}, name...)
}

func encodeCounter(value, initial int64) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[:8], uint64(value))
	binary.BigEndian.PutUint64(out[8:], uint64(initial))
	return out
}

// mapErr reports engine failures as ErrStoreUnavailable. Domain errors
// raised while decoding pass through.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}
