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

// Package node is the replicated kv node: writes travel through the
// consensus log and return the state machine's applied result, reads are
// answered from the local replica.
package node

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/fusedb/metaserver/errors"
	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/raftlog"
	"github.com/fusedb/metaserver/statemachine"
)

// Proposer submits one command to the consensus log and blocks until it is
// committed and applied, returning that entry's apply result.
type Proposer interface {
	Propose(ctx context.Context, data *raftlog.ProposalData) (raftlog.ProposalResponse, error)
}

type Node struct {
	proposer Proposer
	sm       *statemachine.StateMachine
}

var _ kvapi.KVApi = (*Node)(nil)

func NewNode(proposer Proposer, sm *statemachine.StateMachine) *Node {
	return &Node{proposer: proposer, sm: sm}
}

// UpsertKV linearizes one conditional write through the log. A condition
// mismatch comes back as a successful no-op reply with Result == Prev.
func (n *Node) UpsertKV(ctx context.Context, req kvapi.UpsertKV) (kvapi.UpsertKVReply, error) {
	ret, err := n.propose(ctx, statemachine.RaftOpUpsertKV, &statemachine.LogEntry{
		TimeMs: uint64(time.Now().UnixMilli()),
		Upsert: &req,
	})
	if err != nil {
		return kvapi.UpsertKVReply{}, err
	}
	reply, ok := ret.(*kvapi.UpsertKVReply)
	if !ok {
		return kvapi.UpsertKVReply{}, n.contractViolation(ctx, "upsert", ret)
	}
	return *reply, nil
}

// Transaction linearizes the whole conditional transaction as one log entry.
func (n *Node) Transaction(ctx context.Context, req kvapi.TxnRequest) (kvapi.TxnReply, error) {
	ret, err := n.propose(ctx, statemachine.RaftOpTransaction, &statemachine.LogEntry{
		TimeMs: uint64(time.Now().UnixMilli()),
		Txn:    &req,
	})
	if err != nil {
		return kvapi.TxnReply{}, err
	}
	reply, ok := ret.(*kvapi.TxnReply)
	if !ok {
		return kvapi.TxnReply{}, n.contractViolation(ctx, "txn", ret)
	}
	return *reply, nil
}

// GetKV reads the local replica; the result may lag acknowledged writes.
func (n *Node) GetKV(ctx context.Context, key string) (*kvapi.SeqV, error) {
	return n.sm.GetKV(ctx, key)
}

// MGetKV reads the local replica; the result may lag acknowledged writes.
func (n *Node) MGetKV(ctx context.Context, keys []string) ([]*kvapi.SeqV, error) {
	return n.sm.MGetKV(ctx, keys)
}

// PrefixListKV reads the local replica; the result may lag acknowledged
// writes.
func (n *Node) PrefixListKV(ctx context.Context, prefix string) ([]kvapi.KVPair, error) {
	return n.sm.PrefixListKV(ctx, prefix)
}

func (n *Node) propose(ctx context.Context, op uint32, entry *statemachine.LogEntry) (interface{}, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	resp, err := n.proposer.Propose(ctx, &raftlog.ProposalData{Op: op, Data: data})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// contractViolation reports an apply result of the wrong shape. This can
// only happen when the log and state machine disagree about op codes, so
// the error is terminal for the request, never retried.
func (n *Node) contractViolation(ctx context.Context, op string, ret interface{}) error {
	span := trace.SpanFromContextSafe(ctx)
	span.Errorf("%s apply result has unexpected type %T", op, ret)
	return apierrors.ErrInternalContract
}
