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

// Package client is the http client of the metadata kv service. It speaks
// the same contract as the node itself, so callers can swap a remote
// service for an embedded one.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/rpc"

	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/raftlog"
)

type Config struct {
	// Address is the http address of the metaserver, with or without the
	// scheme prefix.
	Address string `json:"address"`

	RpcConfig rpc.Config `json:"rpc_config"`
}

type Client struct {
	addr string
	cli  rpc.Client
}

var _ kvapi.KVApi = (*Client)(nil)

func NewClient(cfg *Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("address can't be empty")
	}
	addr := cfg.Address
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		addr: addr,
		cli:  rpc.NewClient(&cfg.RpcConfig),
	}, nil
}

func (c *Client) UpsertKV(ctx context.Context, req kvapi.UpsertKV) (kvapi.UpsertKVReply, error) {
	reply := kvapi.UpsertKVReply{}
	err := c.cli.PostWith(ctx, c.addr+"/kv/upsert", &reply, req)
	return reply, err
}

func (c *Client) GetKV(ctx context.Context, key string) (*kvapi.SeqV, error) {
	var rec *kvapi.SeqV
	err := c.cli.GetWith(ctx, fmt.Sprintf("%s/kv/get?key=%s", c.addr, url.QueryEscape(key)), &rec)
	return rec, err
}

func (c *Client) MGetKV(ctx context.Context, keys []string) ([]*kvapi.SeqV, error) {
	var recs []*kvapi.SeqV
	args := struct {
		Keys []string `json:"keys"`
	}{Keys: keys}
	err := c.cli.PostWith(ctx, c.addr+"/kv/mget", &recs, args)
	return recs, err
}

func (c *Client) PrefixListKV(ctx context.Context, prefix string) ([]kvapi.KVPair, error) {
	var pairs []kvapi.KVPair
	err := c.cli.GetWith(ctx, fmt.Sprintf("%s/kv/list?prefix=%s", c.addr, url.QueryEscape(prefix)), &pairs)
	return pairs, err
}

func (c *Client) Transaction(ctx context.Context, req kvapi.TxnRequest) (kvapi.TxnReply, error) {
	reply := kvapi.TxnReply{}
	err := c.cli.PostWith(ctx, c.addr+"/kv/txn", &reply, req)
	return reply, err
}

// Stat fetches the consensus view of the remote node.
func (c *Client) Stat(ctx context.Context) (*raftlog.Stat, error) {
	st := &raftlog.Stat{}
	err := c.cli.GetWith(ctx, c.addr+"/stats", st)
	return st, err
}

func (c *Client) Close() {
	c.cli.Close()
}
