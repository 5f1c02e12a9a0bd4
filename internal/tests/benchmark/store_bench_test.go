package benchmark

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
)

// MessageSizes are payload sizes in bytes.
var MessageSizes = []int{128, 1024}

// BenchmarkStoreSet measures persisting outgoing messages.
func BenchmarkStoreSet(b *testing.B) {
	for _, sub := range substrates {
		for _, size := range MessageSizes {
			b.Run(fmt.Sprintf("%s/size_%d", sub.name, size), func(b *testing.B) {
				ctx := context.Background()
				store := newStore(b, sub.open(b), 0)
				msg := fixMessage(1, size)

				b.SetBytes(int64(len(msg)))
				b.ReportAllocs()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					if _, err := store.Set(ctx, i+1, msg); err != nil {
						b.Fatalf("Set: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkStoreGetRange measures resend requests of 100 messages.
func BenchmarkStoreGetRange(b *testing.B) {
	const stored, window = 10_000, 100

	for _, sub := range substrates {
		b.Run(sub.name, func(b *testing.B) {
			ctx := context.Background()
			store := newStore(b, sub.open(b), 0)
			for seq := 1; seq <= stored; seq++ {
				if _, err := store.Set(ctx, seq, fixMessage(seq, 256)); err != nil {
					b.Fatal(err)
				}
			}

			b.ReportAllocs()
			b.ResetTimer()

			buf := make([]string, 0, window)
			for i := 0; i < b.N; i++ {
				start := (i*window)%(stored-window) + 1
				msgs, err := store.Get(ctx, start, start+window-1, buf[:0])
				if err != nil {
					b.Fatalf("Get: %v", err)
				}
				if len(msgs) != window {
					b.Fatalf("Get returned %d messages, want %d", len(msgs), window)
				}
			}
		})
	}
}

// BenchmarkStoreIncr measures the per-message counter advance.
func BenchmarkStoreIncr(b *testing.B) {
	for _, sub := range substrates {
		b.Run(sub.name, func(b *testing.B) {
			ctx := context.Background()
			store := newStore(b, sub.open(b), 0)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				if err := store.IncrNextSenderMsgSeqNum(ctx); err != nil {
					b.Fatalf("Incr: %v", err)
				}
			}
		})
	}
}

// BenchmarkStoreIncrParallel measures contention on one session's counter
// from many goroutines.
func BenchmarkStoreIncrParallel(b *testing.B) {
	for _, sub := range substrates {
		b.Run(sub.name, func(b *testing.B) {
			ctx := context.Background()
			store := newStore(b, sub.open(b), 0)

			b.ReportAllocs()
			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					if err := store.IncrNextTargetMsgSeqNum(ctx); err != nil {
						b.Errorf("Incr: %v", err)
						return
					}
				}
			})
		})
	}
}

// BenchmarkStoreSetNextParallel measures the compare-and-swap loop under
// contention.
func BenchmarkStoreSetNextParallel(b *testing.B) {
	for _, sub := range substrates {
		b.Run(sub.name, func(b *testing.B) {
			ctx := context.Background()
			store := newStore(b, sub.open(b), 0)
			var next atomic.Int64

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					n := int(next.Add(1)%1_000_000) + 1
					if err := store.SetNextSenderMsgSeqNum(ctx, n); err != nil {
						b.Errorf("SetNext: %v", err)
						return
					}
				}
			})
		})
	}
}

// BenchmarkFactoryCreate measures provisioning distinct sessions.
func BenchmarkFactoryCreate(b *testing.B) {
	for _, sub := range substrates {
		b.Run(sub.name, func(b *testing.B) {
			backend := sub.open(b)

			b.ReportAllocs()
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				newStore(b, backend, i)
			}
		})
	}
}
