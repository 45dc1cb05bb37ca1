// Copyright 2023 The FuseDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package raftlog binds the metadata state machine to a consensus log.
//
// The log itself is an external collaborator: replication, election and
// message transport belong to the raft library. This package submits
// proposals, applies committed entries in order, and routes each applied
// result back to the proposer that is blocked on it.
package raftlog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/uuid"
	"go.etcd.io/etcd/raft/v3"
	"go.etcd.io/etcd/raft/v3/raftpb"

	apierrors "github.com/fusedb/metaserver/errors"
)

const (
	defaultTickIntervalMs  = 100
	defaultElectionTick    = 10
	defaultHeartbeatTick   = 1
	defaultMaxSizePerMsg   = 1 << 20
	defaultMaxInflightMsgs = 256
)

type Config struct {
	NodeID         uint64 `json:"node_id"`
	TickIntervalMs uint32 `json:"tick_interval_ms"`
	ElectionTick   int    `json:"election_tick"`
	HeartbeatTick  int    `json:"heartbeat_tick"`
}

// Group is the write half of the consensus contract: Propose blocks the
// caller until the entry is committed AND applied, then returns the state
// machine's result for exactly that entry.
type Group interface {
	Propose(ctx context.Context, data *ProposalData) (ProposalResponse, error)
	Stat() *Stat
	Close() error
}

type group struct {
	nodeID       uint64
	node         raft.Node
	storage      *raft.MemoryStorage
	sm           Applier
	leader       uint64
	appliedIndex uint64
	nextNotifyID uint64
	notifies     sync.Map
	tick         time.Duration
	stopc        chan struct{}
	donec        chan struct{}
}

// NewGroup starts a single-voter raft group and blocks until it has elected
// itself, so the first Propose after return does not race the election.
func NewGroup(ctx context.Context, cfg *Config, sm Applier) (Group, error) {
	span := trace.SpanFromContextSafe(ctx)

	if cfg.NodeID == 0 {
		return nil, apierrors.ErrLogUnavailable
	}
	if cfg.TickIntervalMs == 0 {
		cfg.TickIntervalMs = defaultTickIntervalMs
	}
	if cfg.ElectionTick == 0 {
		cfg.ElectionTick = defaultElectionTick
	}
	if cfg.HeartbeatTick == 0 {
		cfg.HeartbeatTick = defaultHeartbeatTick
	}

	storage := raft.NewMemoryStorage()
	c := &raft.Config{
		ID:              cfg.NodeID,
		ElectionTick:    cfg.ElectionTick,
		HeartbeatTick:   cfg.HeartbeatTick,
		Storage:         storage,
		MaxSizePerMsg:   defaultMaxSizePerMsg,
		MaxInflightMsgs: defaultMaxInflightMsgs,
	}
	node := raft.StartNode(c, []raft.Peer{{ID: cfg.NodeID}})

	g := &group{
		nodeID:  cfg.NodeID,
		node:    node,
		storage: storage,
		sm:      sm,
		tick:    time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		stopc:   make(chan struct{}),
		donec:   make(chan struct{}),
	}
	go g.run()

	if err := g.waitForRaftStart(ctx); err != nil {
		g.Close()
		return nil, err
	}
	span.Infof("raft group started, node %d", cfg.NodeID)
	return g, nil
}

func (g *group) Propose(ctx context.Context, data *ProposalData) (resp ProposalResponse, err error) {
	if atomic.LoadUint64(&g.leader) != g.nodeID {
		return resp, apierrors.ErrNotLeader
	}

	if data.TraceID == "" {
		if span := trace.SpanFromContext(ctx); span != nil {
			data.TraceID = span.TraceID()
		} else {
			data.TraceID = uuid.NewString()
		}
	}
	data.notifyID = atomic.AddUint64(&g.nextNotifyID, 1)

	buf, err := data.Marshal()
	if err != nil {
		return resp, err
	}

	n := newNotify()
	g.notifies.Store(data.notifyID, n)

	if err = g.node.Propose(ctx, buf); err != nil {
		g.notifies.Delete(data.notifyID)
		switch err {
		case raft.ErrProposalDropped:
			return resp, apierrors.ErrLogUnavailable
		case context.Canceled, context.DeadlineExceeded:
			return resp, apierrors.ErrProposalTimeout
		}
		return resp, err
	}

	// An abandoned wait does not retract the entry: the proposal is in the
	// log and will still apply, the waiter entry is simply never notified.
	ret, err := n.Wait(ctx)
	if err != nil {
		g.notifies.Delete(data.notifyID)
		return resp, apierrors.ErrProposalTimeout
	}
	if ret.err != nil {
		return resp, ret.err
	}
	return ProposalResponse{Data: ret.reply}, nil
}

func (g *group) Stat() *Stat {
	st := g.node.Status()
	return &Stat{
		NodeID:  g.nodeID,
		Leader:  st.Lead,
		Term:    st.Term,
		Commit:  st.Commit,
		Applied: atomic.LoadUint64(&g.appliedIndex),
	}
}

func (g *group) Close() error {
	select {
	case <-g.stopc:
	default:
		close(g.stopc)
	}
	<-g.donec
	return nil
}

func (g *group) waitForRaftStart(ctx context.Context) error {
	span := trace.SpanFromContextSafe(ctx)
	start := time.Now()
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		if atomic.LoadUint64(&g.leader) == g.nodeID {
			span.Infof("raft start success after %d ms", time.Since(start).Milliseconds())
			return nil
		}
		select {
		case <-ctx.Done():
			return apierrors.ErrLogUnavailable
		case <-g.donec:
			return apierrors.ErrLogUnavailable
		case <-ticker.C:
		}
	}
}

func (g *group) run() {
	defer close(g.donec)

	span, ctx := trace.StartSpanFromContext(context.Background(), "raftlog")
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.node.Tick()
		case rd := <-g.node.Ready():
			if !raft.IsEmptyHardState(rd.HardState) {
				if err := g.storage.SetHardState(rd.HardState); err != nil {
					span.Fatalf("persist hard state failed: %s", err)
				}
			}
			if err := g.storage.Append(rd.Entries); err != nil {
				span.Fatalf("append raft entries failed: %s", err)
			}
			if rd.SoftState != nil {
				lead := rd.SoftState.Lead
				atomic.StoreUint64(&g.leader, lead)
				if err := g.sm.LeaderChange(lead); err != nil {
					span.Errorf("leader change callback failed: %s", err)
				}
			}
			g.applyCommittedEntries(ctx, rd.CommittedEntries)
			g.node.Advance()
		case <-g.stopc:
			g.node.Stop()
			return
		}
	}
}

func (g *group) applyCommittedEntries(ctx context.Context, entries []raftpb.Entry) {
	span := trace.SpanFromContext(ctx)

	pds := make([]ProposalData, 0, len(entries))
	latestIndex := uint64(0)

	flush := func() {
		if len(pds) == 0 {
			return
		}
		rets, err := g.sm.Apply(ctx, pds, latestIndex)
		if err != nil {
			span.Errorf("apply to state machine failed: %s", err)
			for i := range pds {
				g.doNotify(pds[i].notifyID, proposalResult{err: err})
			}
		} else {
			for i, ret := range rets {
				g.doNotify(pds[i].notifyID, proposalResult{reply: ret})
			}
		}
		pds = pds[:0]
	}

	for i := range entries {
		switch entries[i].Type {
		case raftpb.EntryConfChange:
			flush()
			var cc raftpb.ConfChange
			if err := cc.Unmarshal(entries[i].Data); err != nil {
				span.Fatalf("unmarshal conf change failed: %s", err)
			}
			g.node.ApplyConfChange(cc)
		case raftpb.EntryNormal:
			if len(entries[i].Data) == 0 {
				continue
			}
			pd := ProposalData{}
			if err := pd.Unmarshal(entries[i].Data); err != nil {
				span.Errorf("unmarshal proposal data failed: %s", err)
				continue
			}
			pds = append(pds, pd)
		}
		latestIndex = entries[i].Index
	}
	flush()

	if latestIndex > 0 {
		atomic.StoreUint64(&g.appliedIndex, latestIndex)
	}
}

func (g *group) doNotify(notifyID uint64, ret proposalResult) {
	n, ok := g.notifies.LoadAndDelete(notifyID)
	if !ok {
		return
	}
	n.(notify).Notify(ret)
}
