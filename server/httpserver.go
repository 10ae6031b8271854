// Copyright 2023 The CubeFS Authors.
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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/metrics"
	"github.com/cubefs/mantle/proto"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30

	maxPolicySize = 1 << 20
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
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), traceHandler{}, ph),
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
	router := rpc.New()
	router.Handle(http.MethodGet, "/stats", h.Stats, rpc.OptArgsQuery())

	router.Handle(http.MethodGet, "/balancer/status", h.Status)
	router.Handle(http.MethodGet, "/balancer/records", h.Records, rpc.OptArgsQuery())
	router.Handle(http.MethodPost, "/balancer/tick", h.Tick)
	router.Handle(http.MethodGet, "/balancer/metrics", h.Metrics)
	router.Handle(http.MethodPost, "/fs/balancer", h.SetBalancer, rpc.OptArgsQuery())
	router.Handle(http.MethodPut, "/policy", h.PutPolicy, rpc.OptArgsQuery())
	router.Handle(http.MethodGet, "/policies", h.ListPolicies)
	router.Handle(http.MethodPut, "/mds/metrics", h.SetMetrics)

	return router
}

func (h *HttpServer) Stats(c *rpc.Context) {
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) Status(c *rpc.Context) {
	status, err := h.balancer.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.RespondJSON(status)
}

type RecordsArgs struct {
	Limit int `json:"limit"`
}

type RecordsRet struct {
	Records []proto.CycleRecord `json:"records"`
	Error   string              `json:"error,omitempty"`
}

// Records returns the newest cluster log records, oldest first.
func (h *HttpServer) Records(c *rpc.Context) {
	args := new(RecordsArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadArgs", err))
		return
	}
	if args.Limit <= 0 {
		args.Limit = defaultRecordLimit
	}
	if args.Limit > maxListNum {
		args.Limit = maxListNum
	}
	c.RespondJSON(RecordsRet{Records: h.memLog.Recent(args.Limit)})
}

func (h *HttpServer) Tick(c *rpc.Context) {
	recs, err := h.TickAll(c.Request.Context())
	if err != nil && len(recs) == 0 {
		respondError(c, err)
		return
	}
	ret := RecordsRet{Records: recs}
	if err != nil {
		trace.SpanFromContextSafe(c.Request.Context()).Warnf("tick partially failed: %s", err)
		ret.Error = err.Error()
	}
	c.RespondJSON(ret)
}

func (h *HttpServer) Metrics(c *rpc.Context) {
	promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
}

type SetBalancerArgs struct {
	Name string `json:"name"`
}

// SetBalancer is "fs set <fs> balancer <name>".
func (h *HttpServer) SetBalancer(c *rpc.Context) {
	args := new(SetBalancerArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadArgs", err))
		return
	}
	span := trace.SpanFromContextSafe(c.Request.Context())
	cfg, err := h.fsMap.SetBalancer(c.Request.Context(), args.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	span.Infof("balancer set to %q, epoch %d", cfg.Name, cfg.Epoch)
	c.RespondJSON(cfg)
}

type PolicyArgs struct {
	Name string `json:"name"`
}

// PutPolicy publishes the request body as the script of the named policy.
func (h *HttpServer) PutPolicy(c *rpc.Context) {
	args := new(PolicyArgs)
	if err := c.ParseArgs(args); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadArgs", err))
		return
	}
	script, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPolicySize+1))
	if err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadBody", err))
		return
	}
	if len(script) > maxPolicySize {
		c.RespondError(rpc.NewError(http.StatusRequestEntityTooLarge, "PolicyTooLarge",
			errors.New("policy script too large")))
		return
	}
	if err = h.policyStore.Put(c.Request.Context(), args.Name, script); err != nil {
		respondError(c, err)
		return
	}
	c.RespondStatus(http.StatusOK)
}

type ListPoliciesRet struct {
	Policies []proto.PolicyName `json:"policies"`
}

func (h *HttpServer) ListPolicies(c *rpc.Context) {
	names, err := h.policyStore.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if len(names) > maxListNum {
		names = names[:maxListNum]
	}
	c.RespondJSON(ListPoliciesRet{Policies: names})
}

// SetMetrics feeds per-rank metrics into the in-process rank table.
func (h *HttpServer) SetMetrics(c *rpc.Context) {
	var ms []proto.RankMetrics
	if err := json.NewDecoder(io.LimitReader(c.Request.Body, maxPolicySize)).Decode(&ms); err != nil {
		c.RespondError(rpc.NewError(http.StatusBadRequest, "BadBody", err))
		return
	}
	for _, m := range ms {
		h.cluster.SetMetrics(m)
	}
	c.RespondStatus(http.StatusOK)
}

func respondError(c *rpc.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apierrors.ErrBalancerNotSet):
		status = http.StatusConflict
	case errors.Is(err, apierrors.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, apierrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apierrors.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, apierrors.ErrUnreachable):
		status = http.StatusBadGateway
	}
	c.RespondError(rpc.NewError(status, apierrors.KindOf(err).String(), err))
}

// traceHandler puts requests that carry a request id under a span with that
// trace id, so their log lines can be matched with the caller's.
type traceHandler struct{}

func (traceHandler) Handler(w http.ResponseWriter, req *http.Request, f func(http.ResponseWriter, *http.Request)) {
	if reqID := req.Header.Get(proto.ReqIdKey); reqID != "" {
		_, ctx := trace.StartSpanFromContextWithTraceID(req.Context(), req.URL.Path, reqID)
		req = req.WithContext(ctx)
	}
	f(w, req)
}
