package memory

// State is a point-in-time copy of a Backend.
type State struct {
	Namespaces map[string]map[int64]string `json:"namespaces"`
	Counters   map[string]CounterState     `json:"counters"`
}

// CounterState is the persisted form of one counter.
type CounterState struct {
	Value   int64 `json:"value"`
	Initial int64 `json:"initial"`
}

// Snapshot copies the full state. Each namespace is copied under its own
// lock; the copy is consistent per key, which is all the Raft FSM needs since
// it applies commands serially.
func (b *Backend) Snapshot() *State {
	st := &State{
		Namespaces: make(map[string]map[int64]string),
		Counters:   make(map[string]CounterState),
	}

	b.namespaces.Range(func(name string, n *namespace) bool {
		n.mu.RLock()
		entries := make(map[int64]string, len(n.entries))
		for k, v := range n.entries {
			entries[k] = v
		}
		n.mu.RUnlock()
		st.Namespaces[name] = entries
		return true
	})

	b.counters.Range(func(name string, c *counter) bool {
		st.Counters[name] = CounterState{Value: c.value.Load(), Initial: c.initial}
		return true
	})

	return st
}

// Restore replaces the full state with st.
func (b *Backend) Restore(st *State) {
	b.namespaces.Clear()
	b.counters.Clear()
	if st == nil {
		return
	}

	for name, entries := range st.Namespaces {
		n := &namespace{entries: make(map[int64]string, len(entries))}
		for k, v := range entries {
			n.entries[k] = v
		}
		b.namespaces.Set(name, n)
	}

	for name, cs := range st.Counters {
		c := &counter{initial: cs.Initial}
		c.value.Store(cs.Value)
		b.counters.Set(name, c)
	}
}

// Stats reports the number of namespaces, entries and counters held.
func (b *Backend) Stats() (namespaces, entries, counters int) {
	b.namespaces.Range(func(_ string, n *namespace) bool {
		namespaces++
		n.mu.RLock()
		entries += len(n.entries)
		n.mu.RUnlock()
		return true
	})
	return namespaces, entries, b.counters.Count()
}
