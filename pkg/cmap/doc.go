// Package cmap provides a generic sharded map guarded by per-shard
// read/write locks.
//
// It backs the in-memory namespace and counter tables and the per-client
// bookkeeping of the RESP server, where many goroutines touch disjoint keys.
//
//	m := cmap.New[string, *namespace]()
//	ns, existed := m.GetOrSet(name, newNamespace())
//
// Range and DeleteFunc lock one shard at a time, so they do not observe a
// consistent snapshot of the whole map.
package cmap
