package clusterserver

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/storage/memory"
)

// CommandType identifies a replicated operation.
type CommandType string

const (
	CmdNamespaceOpen CommandType = "ns.open"
	CmdPut           CommandType = "kv.put"
	CmdPutIfAbsent   CommandType = "kv.putnx"
	CmdClear         CommandType = "kv.clear"
	CmdCounterDefine CommandType = "ctr.define"
	CmdCounterAdd    CommandType = "ctr.add"
	CmdCounterCAS    CommandType = "ctr.cas"
	CmdCounterReset  CommandType = "ctr.reset"
	CmdMemberJoin    CommandType = "member.join"
	CmdMemberLeave   CommandType = "member.leave"
)

// Command is one Raft log entry.
type Command struct {
	Type  CommandType `json:"type"`
	Name  string      `json:"name,omitempty"`
	Key   int64       `json:"key,omitempty"`
	Value string      `json:"value,omitempty"`

	// Counter arguments. Delta for add, Expect/Update for cas,
	// Initial for define.
	Delta   int64 `json:"delta,omitempty"`
	Expect  int64 `json:"expect,omitempty"`
	Update  int64 `json:"update,omitempty"`
	Initial int64 `json:"initial,omitempty"`

	Member *Member `json:"member,omitempty"`
}

// Result is what FSM.Apply returns for a Command.
type Result struct {
	// OK carries inserted/created/swapped flags.
	OK bool
	// Value carries counter values.
	Value int64
	// Err is a domain error raised by the state machine.
	Err error
}

// Member is a cluster member as recorded in the replicated state.
type Member struct {
	NodeID    string `json:"node_id"`
	RaftAddr  string `json:"raft_addr"`
	ServeAddr string `json:"serve_addr"`
}

// FSM implements the Raft finite state machine.
//
// All session store state lives in a memory.Backend that is only mutated
// from Apply and Restore. Reads go straight to State() after the caller has
// confirmed leadership.
type FSM struct {
	state *memory.Backend

	mu      sync.RWMutex
	members map[string]Member // nodeID -> Member

	logger *slog.Logger
}

// NewFSM creates a new Raft FSM.
func NewFSM(logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}

	return &FSM{
		state:   memory.New(),
		members: make(map[string]Member),
		logger:  logger,
	}
}

// State returns the replicated store state.
func (f *FSM) State() *memory.Backend {
	return f.state
}

// Apply applies a Raft log entry to the FSM.
//
// This is called by Raft when a log entry is committed.
// Must be deterministic - same input always produces same output.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		// Data corruption or incompatible version. Continuing would let
		// replicas diverge.
		f.logger.Error("FATAL: failed to unmarshal log entry - data corrupted",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	return f.apply(&cmd, log.Index)
}

func (f *FSM) apply(cmd *Command, index uint64) *Result {
	s := f.state

	switch cmd.Type {
	case CmdNamespaceOpen:
		return &Result{OK: s.OpenNamespace(cmd.Name)}

	case CmdPut:
		return &Result{OK: s.Put(cmd.Name, cmd.Key, cmd.Value)}

	case CmdPutIfAbsent:
		return &Result{OK: s.PutIfAbsent(cmd.Name, cmd.Key, cmd.Value)}

	case CmdClear:
		s.ClearNamespace(cmd.Name)
		return &Result{OK: true}

	case CmdCounterDefine:
		return &Result{OK: s.DefineCounter(cmd.Name, cmd.Initial)}

	case CmdCounterAdd:
		v, err := s.CounterAdd(cmd.Name, cmd.Delta)
		return &Result{Value: v, Err: err}

	case CmdCounterCAS:
		ok, err := s.CounterCAS(cmd.Name, cmd.Expect, cmd.Update)
		return &Result{OK: ok, Err: err}

	case CmdCounterReset:
		err := s.CounterReset(cmd.Name)
		return &Result{OK: err == nil, Err: err}

	case CmdMemberJoin:
		if cmd.Member == nil {
			return &Result{Err: domain.ErrInvalidArgument.WithDetails("member.join without member")}
		}
		f.mu.Lock()
		f.members[cmd.Member.NodeID] = *cmd.Member
		f.mu.Unlock()
		f.logger.Info("member joined",
			"node_id", cmd.Member.NodeID,
			"raft_addr", cmd.Member.RaftAddr,
			"serve_addr", cmd.Member.ServeAddr)
		return &Result{OK: true}

	case CmdMemberLeave:
		f.mu.Lock()
		_, ok := f.members[cmd.Name]
		delete(f.members, cmd.Name)
		f.mu.Unlock()
		f.logger.Info("member left", "node_id", cmd.Name)
		return &Result{OK: ok}

	default:
		// Unknown command indicates version mismatch or data corruption
		f.logger.Error("FATAL: unknown command type",
			"type", cmd.Type,
			"log_index", index)
		panic(fmt.Sprintf("FSM.Apply: unknown command %q at index=%d", cmd.Type, index))
	}
}

// Member returns the recorded member with the given ID.
func (f *FSM) Member(nodeID string) (Member, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[nodeID]
	return m, ok
}

// Members returns the recorded members ordered by node ID.
func (f *FSM) Members() []Member {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Member, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// fsmState is the snapshot document.
type fsmState struct {
	Store   *memory.State     `json:"store"`
	Members map[string]Member `json:"members"`
}

// Snapshot creates a snapshot of the FSM state.
//
// Raft never calls Apply concurrently with Snapshot, so copying here is
// consistent.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	members := make(map[string]Member, len(f.members))
	for k, v := range f.members {
		members[k] = v
	}
	f.mu.RUnlock()

	return &fsmSnapshot{state: fsmState{
		Store:   f.state.Snapshot(),
		Members: members,
	}}, nil
}

// Restore restores the FSM state from a snapshot.
//
// This is called by Raft when recovering from a snapshot.
// Must completely replace all FSM state.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	// Snapshots are compressed with gzip to reduce storage and network transfer
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	var state fsmState
	if err := json.NewDecoder(gzReader).Decode(&state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.state.Restore(state.Store)

	f.mu.Lock()
	f.members = state.Members
	if f.members == nil {
		f.members = make(map[string]Member)
	}
	f.mu.Unlock()

	namespaces, entries, counters := f.state.Stats()
	f.logger.Info("fsm state restored from snapshot",
		"namespaces", namespaces,
		"entries", entries,
		"counters", counters,
		"member_count", len(state.Members))

	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state fsmState
}

// Persist writes the snapshot to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gzWriter := gzip.NewWriter(sink)

		if err := json.NewEncoder(gzWriter).Encode(s.state); err != nil {
			gzWriter.Close()
			return fmt.Errorf("encode snapshot: %w", err)
		}

		// Flush gzip writer to ensure all compressed data is written
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}

		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}

	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *fsmSnapshot) Release() {}
