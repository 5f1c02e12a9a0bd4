package cmap

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultShardCount},
		{-4, DefaultShardCount},
		{12, DefaultShardCount},
		{1, 1},
		{8, 8},
		{64, 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.in), func(t *testing.T) {
			if got := len(NewWithShards[string, int](tt.in).shards); got != tt.want {
				t.Errorf("NewWithShards(%d) shards = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMap_SetGetDelete(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("a", 2)

	if v, ok := m.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = (%d, %v), want (2, true)", v, ok)
	}
	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("Get after Delete found the key")
	}
	m.Delete("missing")
}

func TestMap_NonStringKeys(t *testing.T) {
	m := New[int64, string]()
	for i := int64(0); i < 100; i++ {
		m.Set(i, fmt.Sprint(i))
	}
	if m.Count() != 100 {
		t.Fatalf("Count() = %d, want 100", m.Count())
	}
	if v, ok := m.Get(42); !ok || v != "42" {
		t.Errorf("Get(42) = (%q, %v)", v, ok)
	}
}

func TestMap_GetOrSet(t *testing.T) {
	m := New[string, string]()

	v, existed := m.GetOrSet("ns", "first")
	if existed || v != "first" {
		t.Errorf("first GetOrSet = (%q, %v), want (first, false)", v, existed)
	}
	v, existed = m.GetOrSet("ns", "second")
	if !existed || v != "first" {
		t.Errorf("second GetOrSet = (%q, %v), want (first, true)", v, existed)
	}
}

func TestMap_GetOrSetConcurrent(t *testing.T) {
	m := New[string, *int]()
	const workers = 32

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    = map[*int]bool{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, existed := m.GetOrSet("key", new(int))
			mu.Lock()
			defer mu.Unlock()
			if !existed {
				winners++
			}
			seen[v] = true
		}()
	}
	wg.Wait()

	if winners != 1 || len(seen) != 1 {
		t.Errorf("winners = %d, distinct values = %d, want 1 and 1", winners, len(seen))
	}
}

func TestMap_DeleteFunc(t *testing.T) {
	m := New[string, int]()
	for i := 0; i < 10; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	removed := m.DeleteFunc(func(_ string, v int) bool { return v%2 == 0 })
	if removed != 5 {
		t.Errorf("DeleteFunc removed %d, want 5", removed)
	}
	if m.Count() != 5 {
		t.Errorf("Count() = %d, want 5", m.Count())
	}
	if _, ok := m.Get("k4"); ok {
		t.Error("k4 should be gone")
	}
}

func TestMap_RangeAndValues(t *testing.T) {
	m := NewWithShards[string, int](4)
	for i := 1; i <= 5; i++ {
		m.Set(fmt.Sprint(i), i)
	}

	values := m.Values()
	sort.Ints(values)
	if fmt.Sprint(values) != "[1 2 3 4 5]" {
		t.Errorf("Values() = %v", values)
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("Range visited %d entries after stop, want 2", visited)
	}
}

func TestMap_Clear(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d", m.Count())
	}
}

func TestMap_ConcurrentAccess(t *testing.T) {
	m := New[string, int]()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("%d-%d", w, i)
				m.Set(key, i)
				m.Get(key)
				if i%3 == 0 {
					m.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()

	want := 8 * (200 - 67)
	if m.Count() != want {
		t.Errorf("Count() = %d, want %d", m.Count(), want)
	}
}
