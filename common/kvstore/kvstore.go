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

// Package kvstore is the column-family store backing the metadata state
// machine.
package kvstore

import (
	"context"
	"errors"
)

const (
	defaultCF = CF("default")

	RocksdbLsmKVType = LsmKVType("rocksdb")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	CF        string
	LsmKVType string

	// Store is the persistence surface the state machine needs: raw
	// point reads and writes, snapshot-stable prefix listing, and
	// atomic multi-key batches.
	Store interface {
		GetRaw(ctx context.Context, col CF, key []byte) (value []byte, err error)
		SetRaw(ctx context.Context, col CF, key []byte, value []byte) error
		Delete(ctx context.Context, col CF, key []byte) error
		// List iterates all keys under prefix against one snapshot.
		// The caller must Close the reader.
		List(ctx context.Context, col CF, prefix []byte) ListReader
		NewWriteBatch() WriteBatch
		Write(ctx context.Context, batch WriteBatch) error
		Close()
	}

	// WriteBatch accumulates mutations applied atomically by Store.Write.
	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		Count() int
		Close()
	}

	// ListReader walks a prefix range in key order. ReadNext returns
	// (nil, nil, nil) at the end of the range.
	ListReader interface {
		ReadNext() (key []byte, value []byte, err error)
		Close()
	}

	Option struct {
		ColumnFamily []CF `json:"column_family"`
		Sync         bool `json:"sync"`
	}
)

func (c CF) String() string {
	return string(c)
}

// NewKVStore opens the store at path with the configured column families.
func NewKVStore(ctx context.Context, path string, kvType LsmKVType, option *Option) (Store, error) {
	switch kvType {
	case RocksdbLsmKVType:
		return newRocksdb(ctx, path, option)
	default:
		return nil, ErrKVTypeNotFound
	}
}
