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

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	rdb "github.com/tecbot/gorocksdb"
)

type (
	rocksdb struct {
		path      string
		db        *rdb.DB
		opt       *rdb.Options
		readOpt   *rdb.ReadOptions
		writeOpt  *rdb.WriteOptions
		cfHandles map[CF]*rdb.ColumnFamilyHandle
		lock      sync.RWMutex
	}
	listReader struct {
		db       *rdb.DB
		snap     *rdb.Snapshot
		readOpt  *rdb.ReadOptions
		iterator *rdb.Iterator
		prefix   []byte
	}
	writeBatch struct {
		s     *rocksdb
		batch *rdb.WriteBatch
	}
)

func newRocksdb(ctx context.Context, path string, option *Option) (Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	dbOpt := rdb.NewDefaultOptions()
	dbOpt.SetCreateIfMissing(true)
	dbOpt.SetCreateIfMissingColumnFamilies(true)

	cfNum := len(option.ColumnFamily) + 1
	cols := make([]CF, 0, cfNum)
	cols = append(cols, defaultCF)
	cols = append(cols, option.ColumnFamily...)

	cfNames := make([]string, 0, cfNum)
	cfOpts := make([]*rdb.Options, 0, cfNum)
	for i := 0; i < cfNum; i++ {
		cfNames = append(cfNames, cols[i].String())
		cfOpts = append(cfOpts, dbOpt)
	}

	db, cfhs, err := rdb.OpenDbColumnFamilies(dbOpt, path, cfNames, cfOpts)
	if err != nil {
		return nil, err
	}

	cfhMap := make(map[CF]*rdb.ColumnFamilyHandle)
	for i, h := range cfhs {
		cfhMap[cols[i]] = h
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(option.Sync)
	}
	ro := rdb.NewDefaultReadOptions()

	return &rocksdb{
		path:      path,
		db:        db,
		opt:       dbOpt,
		readOpt:   ro,
		writeOpt:  wo,
		cfHandles: cfhMap,
	}, nil
}

func (s *rocksdb) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	cfh, err := s.getCfHandle(col)
	if err != nil {
		return nil, err
	}

	v, err := s.db.GetCF(s.readOpt, cfh, key)
	if err != nil {
		return nil, err
	}
	if !v.Exists() {
		v.Free()
		return nil, ErrNotFound
	}

	value := make([]byte, v.Size())
	copy(value, v.Data())
	v.Free()
	return value, nil
}

func (s *rocksdb) SetRaw(ctx context.Context, col CF, key []byte, value []byte) error {
	cfh, err := s.getCfHandle(col)
	if err != nil {
		return err
	}
	return s.db.PutCF(s.writeOpt, cfh, key, value)
}

func (s *rocksdb) Delete(ctx context.Context, col CF, key []byte) error {
	cfh, err := s.getCfHandle(col)
	if err != nil {
		return err
	}
	return s.db.DeleteCF(s.writeOpt, cfh, key)
}

func (s *rocksdb) List(ctx context.Context, col CF, prefix []byte) ListReader {
	cfh, err := s.getCfHandle(col)
	if err != nil {
		return &listReader{}
	}

	snap := s.db.NewSnapshot()
	ro := rdb.NewDefaultReadOptions()
	ro.SetSnapshot(snap)
	it := s.db.NewIteratorCF(ro, cfh)
	it.Seek(prefix)

	return &listReader{
		db:       s.db,
		snap:     snap,
		readOpt:  ro,
		iterator: it,
		prefix:   prefix,
	}
}

func (s *rocksdb) NewWriteBatch() WriteBatch {
	return &writeBatch{s: s, batch: rdb.NewWriteBatch()}
}

func (s *rocksdb) Write(ctx context.Context, batch WriteBatch) error {
	wb, ok := batch.(*writeBatch)
	if !ok {
		return errors.New("invalid write batch type")
	}
	return s.db.Write(s.writeOpt, wb.batch)
}

func (s *rocksdb) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, h := range s.cfHandles {
		h.Destroy()
	}
	s.readOpt.Destroy()
	s.writeOpt.Destroy()
	s.db.Close()
}

func (s *rocksdb) getCfHandle(col CF) (*rdb.ColumnFamilyHandle, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	cfh, ok := s.cfHandles[col]
	if !ok {
		return nil, fmt.Errorf("column family not found: %s", col)
	}
	return cfh, nil
}

func (lr *listReader) ReadNext() ([]byte, []byte, error) {
	if lr.iterator == nil {
		return nil, nil, errors.New("column family not found")
	}
	if !lr.iterator.ValidForPrefix(lr.prefix) {
		return nil, nil, lr.iterator.Err()
	}

	kg := lr.iterator.Key()
	vg := lr.iterator.Value()
	key := make([]byte, kg.Size())
	copy(key, kg.Data())
	value := make([]byte, vg.Size())
	copy(value, vg.Data())
	kg.Free()
	vg.Free()

	lr.iterator.Next()
	return key, value, nil
}

func (lr *listReader) Close() {
	if lr.iterator == nil {
		return
	}
	lr.iterator.Close()
	lr.readOpt.Destroy()
	lr.db.ReleaseSnapshot(lr.snap)
}

func (b *writeBatch) Put(col CF, key, value []byte) {
	cfh, err := b.s.getCfHandle(col)
	if err != nil {
		return
	}
	b.batch.PutCF(cfh, key, value)
}

func (b *writeBatch) Delete(col CF, key []byte) {
	cfh, err := b.s.getCfHandle(col)
	if err != nil {
		return
	}
	b.batch.DeleteCF(cfh, key)
}

func (b *writeBatch) Count() int {
	return b.batch.Count()
}

func (b *writeBatch) Close() {
	b.batch.Destroy()
}
