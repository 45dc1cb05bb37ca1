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
	"errors"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fusedb/metaserver/kvapi"
	"github.com/fusedb/metaserver/metrics"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), h.logHandler, ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	rpc.POST("/kv/upsert", h.UpsertKV, rpc.OptArgsBody())
	rpc.GET("/kv/get", h.GetKV, rpc.OptArgsQuery())
	rpc.POST("/kv/mget", h.MGetKV, rpc.OptArgsBody())
	rpc.GET("/kv/list", h.PrefixListKV, rpc.OptArgsQuery())
	rpc.POST("/kv/txn", h.Transaction, rpc.OptArgsBody())
	rpc.GET("/stats", h.Stats, rpc.OptArgsQuery())
	rpc.GET("/metrics", h.Metrics, rpc.OptArgsQuery())
	rpc.GET("/limit/status", h.LimitStatus, rpc.OptArgsQuery())

	return rpc.DefaultRouter
}

func (h *HttpServer) acquireRead(c *rpc.Context) bool {
	if err := h.limiter.AcquireRead(); err != nil {
		c.RespondError(rpc.NewError(http.StatusTooManyRequests, "TooManyRequests", err))
		return false
	}
	return true
}

func (h *HttpServer) acquireWrite(c *rpc.Context) bool {
	if err := h.limiter.AcquireWrite(c.Request.Context()); err != nil {
		c.RespondError(rpc.NewError(http.StatusTooManyRequests, "TooManyRequests", err))
		return false
	}
	return true
}

type getKVArgs struct {
	Key string `json:"key"`
}

type mgetKVArgs struct {
	Keys []string `json:"keys"`
}

type listKVArgs struct {
	Prefix string `json:"prefix"`
}

func (h *HttpServer) UpsertKV(c *rpc.Context) {
	ctx := c.Request.Context()
	args := new(kvapi.UpsertKV)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Key == "" {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadRequest", errors.New("key is required")))
		return
	}
	if !h.acquireWrite(c) {
		return
	}
	defer h.limiter.ReleaseWrite()
	reply, err := h.node.UpsertKV(ctx, *args)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(reply)
}

func (h *HttpServer) GetKV(c *rpc.Context) {
	ctx := c.Request.Context()
	args := new(getKVArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if !h.acquireRead(c) {
		return
	}
	defer h.limiter.ReleaseRead()
	rec, err := h.node.GetKV(ctx, args.Key)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(rec)
}

func (h *HttpServer) MGetKV(c *rpc.Context) {
	ctx := c.Request.Context()
	args := new(mgetKVArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if !h.acquireRead(c) {
		return
	}
	defer h.limiter.ReleaseRead()
	recs, err := h.node.MGetKV(ctx, args.Keys)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(recs)
}

func (h *HttpServer) PrefixListKV(c *rpc.Context) {
	ctx := c.Request.Context()
	args := new(listKVArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if !h.acquireRead(c) {
		return
	}
	defer h.limiter.ReleaseRead()
	pairs, err := h.node.PrefixListKV(ctx, args.Prefix)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(pairs)
}

func (h *HttpServer) Transaction(c *rpc.Context) {
	ctx := c.Request.Context()
	args := new(kvapi.TxnRequest)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if !h.acquireWrite(c) {
		return
	}
	defer h.limiter.ReleaseWrite()
	reply, err := h.node.Transaction(ctx, *args)
	if err != nil {
		c.RespondError(err)
		return
	}
	c.RespondJSON(reply)
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondJSON(h.raftGroup.Stat())
}

func (h *HttpServer) LimitStatus(c *rpc.Context) {
	c.RespondJSON(h.limiter.Status())
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}
