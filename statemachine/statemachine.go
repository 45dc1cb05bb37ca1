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

// Package statemachine holds the replicated key-value state. Every mutation
// arrives through the consensus log as a LogEntry and is applied
// deterministically; reads go straight to the local store and may lag the
// log.
package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/fusedb/metaserver/common/kvstore"
	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/metrics"
	"github.com/fusedb/metaserver/raftlog"
)

const (
	RaftOpUpsertKV uint32 = iota + 1
	RaftOpTransaction
)

var errBadCounter = errors.New("statemachine: malformed counter record")

// LogEntry is the replicated command. Exactly one of Upsert and Txn is set;
// which one is selected by the proposal op code.
type LogEntry struct {
	TxID   string            `json:"txid,omitempty"`
	TimeMs uint64            `json:"time_ms,omitempty"`
	Upsert *kvapi.UpsertKV   `json:"upsert,omitempty"`
	Txn    *kvapi.TxnRequest `json:"txn,omitempty"`
}

type StateMachine struct {
	storage *storage

	// seq is the state-wide version counter; every surviving record carries
	// a distinct value of it. Guarded by lock together with the records.
	seq          uint64
	appliedIndex uint64
	lock         sync.RWMutex
}

func NewStateMachine(ctx context.Context, store kvstore.Store) (*StateMachine, error) {
	span := trace.SpanFromContextSafe(ctx)

	s := &storage{kvStore: store}
	seq, err := s.LoadSeq(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := s.LoadApplyIndex(ctx)
	if err != nil {
		return nil, err
	}
	span.Infof("state machine loaded, seq %d, applied index %d", seq, applied)

	return &StateMachine{
		storage:      s,
		seq:          seq,
		appliedIndex: applied,
	}, nil
}

// Apply implements raftlog.Applier. Entries are applied in order; each
// entry's result lands at the same position of the returned slice.
func (sm *StateMachine) Apply(ctx context.Context, pds []raftlog.ProposalData, index uint64) ([]interface{}, error) {
	rets := make([]interface{}, len(pds))

	for i := range pds {
		_, entryCtx := trace.StartSpanFromContextWithTraceID(ctx, "", pds[i].TraceID)
		start := time.Now()

		var (
			ret interface{}
			err error
		)
		switch pds[i].Op {
		case RaftOpUpsertKV:
			ret, err = sm.applyUpsertKV(entryCtx, pds[i].Data)
		case RaftOpTransaction:
			ret, err = sm.applyTransaction(entryCtx, pds[i].Data)
		default:
			err = fmt.Errorf("unsupported operation type: %d", pds[i].Op)
		}
		if err != nil {
			return nil, err
		}
		metrics.ApplyDuration.WithLabelValues(opName(pds[i].Op)).Observe(time.Since(start).Seconds())
		rets[i] = ret
	}

	sm.lock.Lock()
	sm.appliedIndex = index
	sm.lock.Unlock()
	if err := sm.storage.SetApplyIndex(ctx, index); err != nil {
		return nil, err
	}
	return rets, nil
}

// LeaderChange implements raftlog.Applier.
func (sm *StateMachine) LeaderChange(leader uint64) error {
	return nil
}

func (sm *StateMachine) GetAppliedIndex() uint64 {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	return sm.appliedIndex
}

// GetKV returns the record for key, or nil when absent. Expired records
// read as absent.
func (sm *StateMachine) GetKV(ctx context.Context, key string) (*kvapi.SeqV, error) {
	sm.lock.RLock()
	defer sm.lock.RUnlock()
	return sm.currentLocked(ctx, key, nowSec())
}

// MGetKV returns one slot per requested key, in request order; absent keys
// yield nil slots.
func (sm *StateMachine) MGetKV(ctx context.Context, keys []string) ([]*kvapi.SeqV, error) {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	now := nowSec()
	rets := make([]*kvapi.SeqV, len(keys))
	for i := range keys {
		rec, err := sm.currentLocked(ctx, keys[i], now)
		if err != nil {
			return nil, err
		}
		rets[i] = rec
	}
	return rets, nil
}

// PrefixListKV returns every live record whose key starts with prefix, in
// ascending key order, from one store snapshot.
func (sm *StateMachine) PrefixListKV(ctx context.Context, prefix string) ([]kvapi.KVPair, error) {
	sm.lock.RLock()
	defer sm.lock.RUnlock()

	pairs, err := sm.storage.ListRecords(ctx, prefix)
	if err != nil {
		return nil, err
	}
	now := nowSec()
	rets := pairs[:0]
	for i := range pairs {
		if pairs[i].Value.Meta.Expired(now) {
			continue
		}
		rets = append(rets, pairs[i])
	}
	return rets, nil
}

func (sm *StateMachine) applyUpsertKV(ctx context.Context, data []byte) (*kvapi.UpsertKVReply, error) {
	span := trace.SpanFromContextSafe(ctx)

	entry := &LogEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, err
	}
	if entry.Upsert == nil {
		return nil, errors.New("upsert entry without upsert body")
	}
	req := entry.Upsert
	now := entryTimeSec(entry)

	sm.lock.Lock()
	defer sm.lock.Unlock()

	prev, err := sm.currentLocked(ctx, req.Key, now)
	if err != nil {
		return nil, err
	}

	// A failed seq condition is a successful no-op, not an error: the
	// caller learns the outcome from Prev == Result.
	if !req.Seq.Match(kvapi.SeqOf(prev)) {
		span.Debugf("upsert key %s: seq condition %s not met by seq %d", req.Key, req.Seq.String(), kvapi.SeqOf(prev))
		metrics.OpCounter.WithLabelValues("upsert_noop").Inc()
		return &kvapi.UpsertKVReply{Prev: prev, Result: prev}, nil
	}

	batch := sm.storage.NewBatch()
	defer batch.Close()

	prevSeq := sm.seq
	var result *kvapi.SeqV
	switch req.Value.Kind {
	case kvapi.OperationKindUpdate:
		sm.seq++
		result = &kvapi.SeqV{Seq: sm.seq, Meta: req.ValueMeta, Data: req.Value.Value}
		if err := sm.storage.PutRecord(batch, req.Key, result); err != nil {
			return nil, err
		}
	case kvapi.OperationKindDelete:
		if prev != nil {
			sm.storage.DeleteRecord(batch, req.Key)
		}
	case kvapi.OperationKindAsIs:
		if prev != nil {
			sm.seq++
			result = &kvapi.SeqV{Seq: sm.seq, Meta: req.ValueMeta, Data: prev.Data}
			if err := sm.storage.PutRecord(batch, req.Key, result); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported value operation: %d", req.Value.Kind)
	}

	if batch.Count() > 0 {
		sm.storage.PutSeq(batch, sm.seq)
		if err := sm.storage.Write(ctx, batch); err != nil {
			sm.seq = prevSeq
			return nil, err
		}
	}
	metrics.OpCounter.WithLabelValues("upsert").Inc()
	span.Debugf("upsert key %s applied, prev seq %d, result seq %d", req.Key, kvapi.SeqOf(prev), kvapi.SeqOf(result))
	return &kvapi.UpsertKVReply{Prev: prev, Result: result}, nil
}

func (sm *StateMachine) applyTransaction(ctx context.Context, data []byte) (*kvapi.TxnReply, error) {
	span := trace.SpanFromContextSafe(ctx)

	entry := &LogEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, err
	}
	if entry.Txn == nil {
		return nil, errors.New("transaction entry without txn body")
	}
	txn := entry.Txn
	now := entryTimeSec(entry)

	sm.lock.Lock()
	defer sm.lock.Unlock()

	success := true
	for i := range txn.Conditions {
		cond := &txn.Conditions[i]
		cur, err := sm.currentLocked(ctx, cond.Key, now)
		if err != nil {
			return nil, err
		}
		if !cond.Op.Compare(kvapi.SeqOf(cur), cond.Seq) {
			success = false
			break
		}
	}

	branch := txn.Then
	if !success {
		branch = txn.Else
	}

	batch := sm.storage.NewBatch()
	defer batch.Close()

	// Later operations in the branch observe earlier ones through the
	// overlay, but nothing is visible outside until the single batch write.
	overlay := make(map[string]*kvapi.SeqV)
	read := func(key string) (*kvapi.SeqV, error) {
		if rec, ok := overlay[key]; ok {
			return rec, nil
		}
		return sm.currentLocked(ctx, key, now)
	}

	prevSeq := sm.seq
	resps := make([]kvapi.TxnOpResponse, 0, len(branch))
	for i := range branch {
		op := &branch[i]
		switch op.Kind {
		case kvapi.TxnOpPut:
			prev, err := read(op.Key)
			if err != nil {
				return nil, err
			}
			sm.seq++
			rec := &kvapi.SeqV{Seq: sm.seq, Meta: op.Meta, Data: op.Value}
			overlay[op.Key] = rec
			if err := sm.storage.PutRecord(batch, op.Key, rec); err != nil {
				sm.seq = prevSeq
				return nil, err
			}
			resps = append(resps, kvapi.TxnOpResponse{Kind: kvapi.TxnOpPut, Key: op.Key, Prev: prev})
		case kvapi.TxnOpDelete:
			prev, err := read(op.Key)
			if err != nil {
				return nil, err
			}
			if prev != nil {
				overlay[op.Key] = nil
				sm.storage.DeleteRecord(batch, op.Key)
			}
			resps = append(resps, kvapi.TxnOpResponse{Kind: kvapi.TxnOpDelete, Key: op.Key, Prev: prev})
		case kvapi.TxnOpGet:
			cur, err := read(op.Key)
			if err != nil {
				return nil, err
			}
			resps = append(resps, kvapi.TxnOpResponse{Kind: kvapi.TxnOpGet, Key: op.Key, Current: cur})
		default:
			sm.seq = prevSeq
			return nil, fmt.Errorf("unsupported txn operation: %d", op.Kind)
		}
	}

	if batch.Count() > 0 {
		if sm.seq != prevSeq {
			sm.storage.PutSeq(batch, sm.seq)
		}
		if err := sm.storage.Write(ctx, batch); err != nil {
			sm.seq = prevSeq
			return nil, err
		}
	}
	metrics.OpCounter.WithLabelValues("txn").Inc()
	span.Debugf("txn applied, success %v, %d conditions, %d ops", success, len(txn.Conditions), len(branch))
	return &kvapi.TxnReply{Success: success, Responses: resps}, nil
}

// currentLocked reads the live record for key under the state lock. An
// expired record reads as absent.
func (sm *StateMachine) currentLocked(ctx context.Context, key string, now uint64) (*kvapi.SeqV, error) {
	rec, err := sm.storage.GetRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Meta.Expired(now) {
		return nil, nil
	}
	return rec, nil
}

// entryTimeSec picks the clock mutations are judged against: the time stamped
// into the log entry when it was proposed, so every replica agrees on which
// records had expired.
func entryTimeSec(entry *LogEntry) uint64 {
	if entry.TimeMs > 0 {
		return entry.TimeMs / 1000
	}
	return nowSec()
}

func nowSec() uint64 {
	return uint64(time.Now().Unix())
}

func opName(op uint32) string {
	switch op {
	case RaftOpUpsertKV:
		return "upsert"
	case RaftOpTransaction:
		return "txn"
	default:
		return "unknown"
	}
}
