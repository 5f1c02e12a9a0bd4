package clusterserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/raft"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/core/seqstore"
)

// Backend is a seqstore.Backend replicated through Raft.
//
// Every mutation is a Raft log entry applied by the FSM. Reads wait for a
// per-term barrier, so a new leader has applied everything its predecessors
// committed, then verify leadership with a quorum round before reading the
// local FSM state. Both are linearizable. Only the leader serves; followers answer with
// domain.ErrNotLeader carrying the leader's serve address.
type Backend struct {
	raft *RaftNode
	fsm  *FSM
}

// NewBackend creates a Backend over an existing Raft node and its FSM.
func NewBackend(node *RaftNode, fsm *FSM) *Backend {
	return &Backend{raft: node, fsm: fsm}
}

// LeaderServeAddr returns the client-facing address of the current leader,
// or "" when there is no leader or it has not registered yet.
func (b *Backend) LeaderServeAddr() string {
	id, _ := b.raft.Leader()
	if id == "" {
		return ""
	}
	m, ok := b.fsm.Member(id)
	if !ok {
		return ""
	}
	return m.ServeAddr
}

// Namespace implements seqstore.Backend.
func (b *Backend) Namespace(ctx context.Context, name string) (seqstore.Namespace, error) {
	if _, err := b.apply(ctx, &Command{Type: CmdNamespaceOpen, Name: name}); err != nil {
		return nil, err
	}
	return &clusterNamespace{b: b, name: name}, nil
}

// Counter implements seqstore.Backend.
func (b *Backend) Counter(ctx context.Context, name string, initial int64) (seqstore.CounterPrimitive, error) {
	if _, err := b.apply(ctx, &Command{Type: CmdCounterDefine, Name: name, Initial: initial}); err != nil {
		return nil, err
	}
	return &clusterCounter{b: b, name: name}, nil
}

// AttachNamespace implements seqstore.Attacher.
func (b *Backend) AttachNamespace(name string) seqstore.Namespace {
	return &clusterNamespace{b: b, name: name}
}

// AttachCounter implements seqstore.Attacher.
func (b *Backend) AttachCounter(name string) seqstore.CounterPrimitive {
	return &clusterCounter{b: b, name: name}
}

func (b *Backend) apply(ctx context.Context, cmd *Command) (*Result, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}

	resp, err := b.raft.Apply(ctx, data)
	if err != nil {
		return nil, b.mapErr(err)
	}

	res, ok := resp.(*Result)
	if !ok {
		return nil, domain.ErrCorruptStore.WithDetailsf("unexpected apply response %T", resp)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res, nil
}

// verify confirms leadership before a read.
func (b *Backend) verify(ctx context.Context) error {
	if err := b.raft.VerifyLeader(ctx); err != nil {
		return b.mapErr(err)
	}
	return nil
}

func (b *Backend) mapErr(err error) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, raft.ErrNotLeader) ||
		errors.Is(err, raft.ErrLeadershipLost) ||
		errors.Is(err, raft.ErrLeadershipTransferInProgress) {
		return domain.ErrNotLeader.WithDetails(b.LeaderServeAddr()).WithCause(err)
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

type clusterNamespace struct {
	b    *Backend
	name string
}

func (n *clusterNamespace) Put(ctx context.Context, key int64, value string) (bool, error) {
	res, err := n.b.apply(ctx, &Command{Type: CmdPut, Name: n.name, Key: key, Value: value})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (n *clusterNamespace) PutIfAbsent(ctx context.Context, key int64, value string) (bool, error) {
	res, err := n.b.apply(ctx, &Command{Type: CmdPutIfAbsent, Name: n.name, Key: key, Value: value})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (n *clusterNamespace) Get(ctx context.Context, key int64) (string, bool, error) {
	if err := n.b.verify(ctx); err != nil {
		return "", false, err
	}
	v, ok := n.b.fsm.State().Get(n.name, key)
	return v, ok, nil
}

func (n *clusterNamespace) GetRange(ctx context.Context, start, end int64) ([]seqstore.Entry, error) {
	if err := n.b.verify(ctx); err != nil {
		return nil, err
	}
	return n.b.fsm.State().Range(n.name, start, end), nil
}

func (n *clusterNamespace) Clear(ctx context.Context) error {
	_, err := n.b.apply(ctx, &Command{Type: CmdClear, Name: n.name})
	return err
}

type clusterCounter struct {
	b    *Backend
	name string
}

func (c *clusterCounter) Value(ctx context.Context) (int64, error) {
	if err := c.b.verify(ctx); err != nil {
		return 0, err
	}
	return c.b.fsm.State().CounterValue(c.name)
}

func (c *clusterCounter) AddAndGet(ctx context.Context, delta int64) (int64, error) {
	res, err := c.b.apply(ctx, &Command{Type: CmdCounterAdd, Name: c.name, Delta: delta})
	if err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (c *clusterCounter) CompareAndSwap(ctx context.Context, expect, update int64) (bool, error) {
	res, err := c.b.apply(ctx, &Command{Type: CmdCounterCAS, Name: c.name, Expect: expect, Update: update})
	if err != nil {
		return false, err
	}
	return res.OK, nil
}

func (c *clusterCounter) Reset(ctx context.Context) error {
	_, err := c.b.apply(ctx, &Command{Type: CmdCounterReset, Name: c.name})
	return err
}
