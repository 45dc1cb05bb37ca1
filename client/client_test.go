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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fusedb/metaserver/kvapi"
)

func newTestService(t *testing.T) (*Client, *httptest.Server) {
	mux := http.NewServeMux()
	mux.HandleFunc("/kv/upsert", func(w http.ResponseWriter, r *http.Request) {
		req := kvapi.UpsertKV{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, http.MethodPost, r.Method)
		reply := kvapi.UpsertKVReply{
			Result: &kvapi.SeqV{Seq: 1, Data: req.Value.Value},
		}
		json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("/kv/get", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("key") {
		case "present":
			json.NewEncoder(w).Encode(&kvapi.SeqV{Seq: 7, Data: []byte("v")})
		case "with space":
			json.NewEncoder(w).Encode(&kvapi.SeqV{Seq: 8, Data: []byte("esc")})
		default:
			w.Write([]byte("null"))
		}
	})
	mux.HandleFunc("/kv/mget", func(w http.ResponseWriter, r *http.Request) {
		args := struct {
			Keys []string `json:"keys"`
		}{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		recs := make([]*kvapi.SeqV, len(args.Keys))
		for i, key := range args.Keys {
			if key == "present" {
				recs[i] = &kvapi.SeqV{Seq: 1, Data: []byte("v")}
			}
		}
		json.NewEncoder(w).Encode(recs)
	})
	mux.HandleFunc("/kv/list", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "__fd_db/", r.URL.Query().Get("prefix"))
		json.NewEncoder(w).Encode([]kvapi.KVPair{
			{Key: "__fd_db/a", Value: kvapi.SeqV{Seq: 1, Data: []byte("1")}},
		})
	})
	mux.HandleFunc("/kv/txn", func(w http.ResponseWriter, r *http.Request) {
		req := kvapi.TxnRequest{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(kvapi.TxnReply{Success: true})
	})

	svr := httptest.NewServer(mux)
	cli, err := NewClient(&Config{Address: svr.URL})
	require.NoError(t, err)
	return cli, svr
}

func TestClientUpsertKV(t *testing.T) {
	cli, svr := newTestService(t)
	defer svr.Close()
	defer cli.Close()

	reply, err := cli.UpsertKV(context.Background(), kvapi.UpsertKV{
		Key:   "k",
		Value: kvapi.OpUpdate([]byte("v")),
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), reply.Result.Seq)
	require.Equal(t, []byte("v"), reply.Result.Data)
}

func TestClientGetKV(t *testing.T) {
	cli, svr := newTestService(t)
	defer svr.Close()
	defer cli.Close()
	ctx := context.Background()

	rec, err := cli.GetKV(ctx, "present")
	require.NoError(t, err)
	require.Equal(t, uint64(7), rec.Seq)

	rec, err = cli.GetKV(ctx, "absent")
	require.NoError(t, err)
	require.Nil(t, rec)

	// keys outside the url alphabet survive the query encoding
	rec, err = cli.GetKV(ctx, "with space")
	require.NoError(t, err)
	require.Equal(t, uint64(8), rec.Seq)
}

func TestClientMGetKV(t *testing.T) {
	cli, svr := newTestService(t)
	defer svr.Close()
	defer cli.Close()

	recs, err := cli.MGetKV(context.Background(), []string{"present", "absent"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.NotNil(t, recs[0])
	require.Nil(t, recs[1])
}

func TestClientPrefixListKV(t *testing.T) {
	cli, svr := newTestService(t)
	defer svr.Close()
	defer cli.Close()

	pairs, err := cli.PrefixListKV(context.Background(), "__fd_db/")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "__fd_db/a", pairs[0].Key)
}

func TestClientTransaction(t *testing.T) {
	cli, svr := newTestService(t)
	defer svr.Close()
	defer cli.Close()

	reply, err := cli.Transaction(context.Background(), kvapi.TxnRequest{
		Conditions: []kvapi.TxnCondition{kvapi.CondKeyPresent("k")},
		Then:       []kvapi.TxnOp{kvapi.TxnPut("k2", []byte("v"))},
	})
	require.NoError(t, err)
	require.True(t, reply.Success)
}

func TestClientBadConfig(t *testing.T) {
	_, err := NewClient(&Config{})
	require.Error(t, err)
}
