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

package statemachine

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fusedb/metaserver/common/kvstore"
	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/raftlog"
	"github.com/fusedb/metaserver/util"
)

var testIndex uint64

func newTestStore(t *testing.T) (kvstore.Store, string) {
	path, err := util.GenTmpPath()
	require.NoError(t, err)

	store, err := kvstore.NewKVStore(context.Background(), path, kvstore.RocksdbLsmKVType, &kvstore.Option{
		ColumnFamily: StoreColumnFamilies(),
	})
	require.NoError(t, err)
	return store, path
}

func newTestSM(t *testing.T) (*StateMachine, func()) {
	store, path := newTestStore(t)
	sm, err := NewStateMachine(context.Background(), store)
	require.NoError(t, err)
	return sm, func() {
		store.Close()
		os.RemoveAll(path)
	}
}

func applyEntry(t *testing.T, sm *StateMachine, op uint32, entry *LogEntry) interface{} {
	data, err := json.Marshal(entry)
	require.NoError(t, err)

	testIndex++
	rets, err := sm.Apply(context.Background(), []raftlog.ProposalData{{Op: op, Data: data}}, testIndex)
	require.NoError(t, err)
	require.Len(t, rets, 1)
	return rets[0]
}

func upsert(t *testing.T, sm *StateMachine, req kvapi.UpsertKV) *kvapi.UpsertKVReply {
	ret := applyEntry(t, sm, RaftOpUpsertKV, &LogEntry{
		TimeMs: uint64(time.Now().UnixMilli()),
		Upsert: &req,
	})
	reply, ok := ret.(*kvapi.UpsertKVReply)
	require.True(t, ok)
	return reply
}

func transact(t *testing.T, sm *StateMachine, req kvapi.TxnRequest) *kvapi.TxnReply {
	ret := applyEntry(t, sm, RaftOpTransaction, &LogEntry{
		TimeMs: uint64(time.Now().UnixMilli()),
		Txn:    &req,
	})
	reply, ok := ret.(*kvapi.TxnReply)
	require.True(t, ok)
	return reply
}

func TestUpsertKVConditional(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	// writing an absent key gated on presence is a successful no-op
	reply := upsert(t, sm, kvapi.UpsertKV{Key: "k1", Seq: kvapi.MustBePresent(), Value: kvapi.OpUpdate([]byte("x"))})
	require.Nil(t, reply.Prev)
	require.Nil(t, reply.Result)
	require.False(t, reply.Changed())

	// first real write gets seq 1
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "k1", Seq: kvapi.MustBeAbsent(), Value: kvapi.OpUpdate([]byte("v1"))})
	require.Nil(t, reply.Prev)
	require.Equal(t, uint64(1), reply.Result.Seq)
	require.Equal(t, []byte("v1"), reply.Result.Data)

	// a second must-be-absent write is a no-op against the live record
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "k1", Seq: kvapi.MustBeAbsent(), Value: kvapi.OpUpdate([]byte("v1b"))})
	require.Equal(t, uint64(1), reply.Prev.Seq)
	require.Equal(t, reply.Prev, reply.Result)

	// exact-seq CAS succeeds once
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "k1", Seq: kvapi.MatchSeqExact(1), Value: kvapi.OpUpdate([]byte("v2"))})
	require.Equal(t, uint64(1), reply.Prev.Seq)
	require.Equal(t, uint64(2), reply.Result.Seq)
	require.Equal(t, []byte("v2"), reply.Result.Data)

	// and the stale retry of the same CAS observes the no-op contract
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "k1", Seq: kvapi.MatchSeqExact(1), Value: kvapi.OpUpdate([]byte("v3"))})
	require.Equal(t, uint64(2), reply.Prev.Seq)
	require.Equal(t, []byte("v2"), reply.Prev.Data)
	require.Equal(t, reply.Prev, reply.Result)

	got, err := sm.GetKV(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.Seq)
	require.Equal(t, []byte("v2"), got.Data)
}

func TestUpsertKVSeqIsStateWide(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()

	reply := upsert(t, sm, kvapi.UpsertKV{Key: "a", Value: kvapi.OpUpdate([]byte("1"))})
	require.Equal(t, uint64(1), reply.Result.Seq)

	// a different key continues the same counter
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "b", Value: kvapi.OpUpdate([]byte("2"))})
	require.Equal(t, uint64(2), reply.Result.Seq)

	reply = upsert(t, sm, kvapi.UpsertKV{Key: "a", Value: kvapi.OpUpdate([]byte("3"))})
	require.Equal(t, uint64(3), reply.Result.Seq)
}

func TestUpsertKVDelete(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpUpdate([]byte("v"))})

	reply := upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpDelete()})
	require.Equal(t, uint64(1), reply.Prev.Seq)
	require.Nil(t, reply.Result)

	got, err := sm.GetKV(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, got)

	// deleting an absent key is a no-op with nil on both sides
	reply = upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpDelete()})
	require.Nil(t, reply.Prev)
	require.Nil(t, reply.Result)
}

func TestUpsertKVAsIs(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()

	// as-is on an absent key stays absent
	reply := upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpAsIs()})
	require.Nil(t, reply.Prev)
	require.Nil(t, reply.Result)

	upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpUpdate([]byte("v"))})

	// as-is keeps the value, bumps the seq and replaces the meta
	reply = upsert(t, sm, kvapi.UpsertKV{
		Key:       "k",
		Value:     kvapi.OpAsIs(),
		ValueMeta: &kvapi.KVMeta{ExpireAtSec: uint64(time.Now().Unix()) + 3600},
	})
	require.Equal(t, []byte("v"), reply.Result.Data)
	require.Greater(t, reply.Result.Seq, reply.Prev.Seq)
	require.NotNil(t, reply.Result.Meta)
}

func TestUpsertKVExpire(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	now := uint64(time.Now().Unix())
	upsert(t, sm, kvapi.UpsertKV{
		Key:       "gone",
		Value:     kvapi.OpUpdate([]byte("v")),
		ValueMeta: &kvapi.KVMeta{ExpireAtSec: now - 10},
	})
	upsert(t, sm, kvapi.UpsertKV{
		Key:       "alive",
		Value:     kvapi.OpUpdate([]byte("v")),
		ValueMeta: &kvapi.KVMeta{ExpireAtSec: now + 3600},
	})

	got, err := sm.GetKV(ctx, "gone")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = sm.GetKV(ctx, "alive")
	require.NoError(t, err)
	require.NotNil(t, got)

	// the expired record reads as absent for write conditions too
	reply := upsert(t, sm, kvapi.UpsertKV{Key: "gone", Seq: kvapi.MustBeAbsent(), Value: kvapi.OpUpdate([]byte("new"))})
	require.Nil(t, reply.Prev)
	require.NotNil(t, reply.Result)
}

func TestMGetKV(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	upsert(t, sm, kvapi.UpsertKV{Key: "a", Value: kvapi.OpUpdate([]byte("1"))})
	upsert(t, sm, kvapi.UpsertKV{Key: "c", Value: kvapi.OpUpdate([]byte("3"))})

	recs, err := sm.MGetKV(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []byte("1"), recs[0].Data)
	require.Nil(t, recs[1])
	require.Equal(t, []byte("3"), recs[2].Data)
}

func TestPrefixListKV(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	upsert(t, sm, kvapi.UpsertKV{Key: "__fd_db/a", Value: kvapi.OpUpdate([]byte("1"))})
	upsert(t, sm, kvapi.UpsertKV{Key: "__fd_db/b", Value: kvapi.OpUpdate([]byte("2"))})
	upsert(t, sm, kvapi.UpsertKV{Key: "__fd_db_by_id/1", Value: kvapi.OpUpdate([]byte("3"))})
	upsert(t, sm, kvapi.UpsertKV{Key: "other", Value: kvapi.OpUpdate([]byte("4"))})

	pairs, err := sm.PrefixListKV(ctx, kvapi.ListPrefix(kvapi.PrefixDatabase))
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	require.Equal(t, "__fd_db/a", pairs[0].Key)
	require.Equal(t, "__fd_db/b", pairs[1].Key)

	pairs, err = sm.PrefixListKV(ctx, "")
	require.NoError(t, err)
	require.Len(t, pairs, 4)
}

func TestTransactionBranches(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()
	ctx := context.Background()

	upsert(t, sm, kvapi.UpsertKV{Key: "guard", Value: kvapi.OpUpdate([]byte("g"))})

	// condition holds, Then branch runs
	reply := transact(t, sm, kvapi.TxnRequest{
		Conditions: []kvapi.TxnCondition{kvapi.CondKeyPresent("guard")},
		Then: []kvapi.TxnOp{
			kvapi.TxnPut("t1", []byte("then")),
		},
		Else: []kvapi.TxnOp{
			kvapi.TxnPut("e1", []byte("else")),
		},
	})
	require.True(t, reply.Success)
	require.Len(t, reply.Responses, 1)
	require.Equal(t, kvapi.TxnOpPut, reply.Responses[0].Kind)
	require.Nil(t, reply.Responses[0].Prev)

	got, err := sm.GetKV(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, []byte("then"), got.Data)
	got, err = sm.GetKV(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, got)

	// condition fails, Else branch runs and Then leaves no trace
	reply = transact(t, sm, kvapi.TxnRequest{
		Conditions: []kvapi.TxnCondition{kvapi.CondKeyAbsent("guard")},
		Then: []kvapi.TxnOp{
			kvapi.TxnPut("t2", []byte("then")),
		},
		Else: []kvapi.TxnOp{
			kvapi.TxnPut("e2", []byte("else")),
		},
	})
	require.False(t, reply.Success)

	got, err = sm.GetKV(ctx, "t2")
	require.NoError(t, err)
	require.Nil(t, got)
	got, err = sm.GetKV(ctx, "e2")
	require.NoError(t, err)
	require.Equal(t, []byte("else"), got.Data)
}

func TestTransactionBranchOrder(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()

	// later operations in a branch observe earlier ones
	reply := transact(t, sm, kvapi.TxnRequest{
		Then: []kvapi.TxnOp{
			kvapi.TxnPut("k", []byte("v1")),
			kvapi.TxnGet("k"),
			kvapi.TxnDelete("k"),
			kvapi.TxnGet("k"),
		},
	})
	require.True(t, reply.Success)
	require.Len(t, reply.Responses, 4)
	require.Equal(t, []byte("v1"), reply.Responses[1].Current.Data)
	require.Equal(t, []byte("v1"), reply.Responses[2].Prev.Data)
	require.Nil(t, reply.Responses[3].Current)
}

func TestTransactionConditionSnapshot(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()

	upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpUpdate([]byte("v"))})

	// every condition is evaluated against the pre-branch state
	reply := transact(t, sm, kvapi.TxnRequest{
		Conditions: []kvapi.TxnCondition{
			kvapi.CondSeqEQ("k", 1),
			kvapi.CondKeyAbsent("missing"),
		},
		Then: []kvapi.TxnOp{
			kvapi.TxnPut("missing", []byte("now present")),
		},
	})
	require.True(t, reply.Success)
}

func TestApplyPersistence(t *testing.T) {
	store, path := newTestStore(t)
	defer os.RemoveAll(path)

	ctx := context.Background()
	sm, err := NewStateMachine(ctx, store)
	require.NoError(t, err)

	upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpUpdate([]byte("v"))})
	upsert(t, sm, kvapi.UpsertKV{Key: "k", Value: kvapi.OpUpdate([]byte("v2"))})
	applied := sm.GetAppliedIndex()

	// a reloaded state machine continues the counter instead of reusing seqs
	sm2, err := NewStateMachine(ctx, store)
	require.NoError(t, err)
	require.Equal(t, applied, sm2.GetAppliedIndex())

	reply := upsert(t, sm2, kvapi.UpsertKV{Key: "k2", Value: kvapi.OpUpdate([]byte("x"))})
	require.Equal(t, uint64(3), reply.Result.Seq)

	store.Close()
}

func TestApplyUnknownOp(t *testing.T) {
	sm, clean := newTestSM(t)
	defer clean()

	_, err := sm.Apply(context.Background(), []raftlog.ProposalData{{Op: 999, Data: []byte("{}")}}, 1)
	require.Error(t, err)
}
