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
	"encoding/binary"
	"encoding/json"

	"github.com/fusedb/metaserver/common/kvstore"
	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/util"
)

var (
	kvCF    = kvstore.CF("kv")
	localCF = kvstore.CF("local")

	seqKey        = []byte("kv_seq")
	applyIndexKey = []byte("raft_apply_index")
)

// StoreColumnFamilies lists the column families the state machine needs; the
// store must be opened with them.
func StoreColumnFamilies() []kvstore.CF {
	return []kvstore.CF{kvCF, localCF}
}

type storage struct {
	kvStore kvstore.Store
}

func (s *storage) LoadSeq(ctx context.Context) (uint64, error) {
	return s.loadCounter(ctx, seqKey)
}

func (s *storage) LoadApplyIndex(ctx context.Context) (uint64, error) {
	return s.loadCounter(ctx, applyIndexKey)
}

func (s *storage) SetApplyIndex(ctx context.Context, index uint64) error {
	return s.kvStore.SetRaw(ctx, localCF, applyIndexKey, encodeCounter(index))
}

// GetRecord returns the stored record, or nil when the key is absent.
func (s *storage) GetRecord(ctx context.Context, key string) (*kvapi.SeqV, error) {
	val, err := s.kvStore.GetRaw(ctx, kvCF, util.StringsToBytes(key))
	if err == kvstore.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(val)
}

// ListRecords returns every record whose key starts with prefix, from one
// store snapshot.
func (s *storage) ListRecords(ctx context.Context, prefix string) ([]kvapi.KVPair, error) {
	lr := s.kvStore.List(ctx, kvCF, util.StringsToBytes(prefix))
	defer lr.Close()

	ret := make([]kvapi.KVPair, 0)
	for {
		key, val, err := lr.ReadNext()
		if err != nil {
			return nil, err
		}
		if key == nil {
			break
		}
		rec, err := decodeRecord(val)
		if err != nil {
			return nil, err
		}
		ret = append(ret, kvapi.KVPair{Key: string(key), Value: *rec})
	}
	return ret, nil
}

func (s *storage) NewBatch() kvstore.WriteBatch {
	return s.kvStore.NewWriteBatch()
}

func (s *storage) PutRecord(b kvstore.WriteBatch, key string, rec *kvapi.SeqV) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	b.Put(kvCF, []byte(key), val)
	return nil
}

func (s *storage) DeleteRecord(b kvstore.WriteBatch, key string) {
	b.Delete(kvCF, []byte(key))
}

func (s *storage) PutSeq(b kvstore.WriteBatch, seq uint64) {
	b.Put(localCF, seqKey, encodeCounter(seq))
}

func (s *storage) Write(ctx context.Context, b kvstore.WriteBatch) error {
	return s.kvStore.Write(ctx, b)
}

func (s *storage) loadCounter(ctx context.Context, key []byte) (uint64, error) {
	val, err := s.kvStore.GetRaw(ctx, localCF, key)
	if err == kvstore.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, errBadCounter
	}
	return binary.BigEndian.Uint64(val), nil
}

func encodeCounter(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func encodeRecord(rec *kvapi.SeqV) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(val []byte) (*kvapi.SeqV, error) {
	rec := &kvapi.SeqV{}
	if err := json.Unmarshal(val, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
