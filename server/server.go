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

package server

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/rpc/auditlog"
	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/fusedb/metaserver/common/kvstore"
	"github.com/fusedb/metaserver/node"
	"github.com/fusedb/metaserver/raftlog"
	"github.com/fusedb/metaserver/statemachine"
	"github.com/fusedb/metaserver/util/limiter"
)

type Config struct {
	StorePath string `json:"store_path"`
	StoreSync bool   `json:"store_sync"`

	RaftConfig  raftlog.Config      `json:"raft_config"`
	AuditLog    auditlog.Config     `json:"audit_log"`
	LimitConfig limiter.LimitConfig `json:"limit_config"`
}

// Server wires the store, state machine, raft group and kv node together.
type Server struct {
	kvStore   kvstore.Store
	sm        *statemachine.StateMachine
	raftGroup raftlog.Group
	node      *node.Node
	limiter   limiter.Limiter

	logHandler    rpc.ProgressHandler
	auditRecorder auditlog.LogCloser
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)

	store, err := kvstore.NewKVStore(ctx, cfg.StorePath, kvstore.RocksdbLsmKVType, &kvstore.Option{
		ColumnFamily: statemachine.StoreColumnFamilies(),
		Sync:         cfg.StoreSync,
	})
	if err != nil {
		return nil, err
	}

	sm, err := statemachine.NewStateMachine(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	raftGroup, err := raftlog.NewGroup(ctx, &cfg.RaftConfig, sm)
	if err != nil {
		store.Close()
		return nil, err
	}

	logHandler, auditRecorder, err := auditlog.GetHandler("metaserver", &cfg.AuditLog)
	if err != nil {
		raftGroup.Close()
		store.Close()
		return nil, err
	}

	span.Infof("server initialized, store path %s", cfg.StorePath)
	return &Server{
		kvStore:       store,
		sm:            sm,
		raftGroup:     raftGroup,
		node:          node.NewNode(raftGroup, sm),
		limiter:       limiter.NewLimiter(cfg.LimitConfig),
		logHandler:    logHandler,
		auditRecorder: auditRecorder,
	}, nil
}

func (s *Server) Close() {
	s.raftGroup.Close()
	s.kvStore.Close()
	if s.auditRecorder != nil {
		s.auditRecorder.Close()
	}
}
