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

package policystore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/metrics"
	"github.com/cubefs/mantle/objstore"
	"github.com/cubefs/mantle/proto"
	"github.com/cubefs/mantle/util/limiter"
)

const (
	defaultFetchTimeoutMs = 3000
	defaultCacheSize      = 64

	sourceCache = "cache"
	sourceStore = "store"
)

type Config struct {
	FetchTimeoutMs int `json:"fetch_timeout_ms"`
	// CacheTTLS of zero disables the script cache.
	CacheTTLS int `json:"cache_ttl_s"`
	CacheSize int `json:"cache_size"`
	FetchQPS  int `json:"fetch_qps"`
}

type cacheKey struct {
	name  proto.PolicyName
	epoch proto.Epoch
}

func (k cacheKey) String() string {
	return k.name + "@" + strconv.FormatUint(k.epoch, 10)
}

// PolicyStore fetches policy scripts from the object store. Scripts are
// cached by (name, epoch), so publishing a new balancer through the
// filesystem map always reaches the store again.
type PolicyStore struct {
	store     objstore.Store
	timeout   time.Duration
	cache     *expirable.LRU[cacheKey, []byte]
	limiter   limiter.Limiter
	singleRun *singleflight.Group
}

func NewPolicyStore(store objstore.Store, cfg *Config) *PolicyStore {
	if cfg.FetchTimeoutMs <= 0 {
		cfg.FetchTimeoutMs = defaultFetchTimeoutMs
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}

	p := &PolicyStore{
		store:     store,
		timeout:   time.Duration(cfg.FetchTimeoutMs) * time.Millisecond,
		singleRun: &singleflight.Group{},
	}
	if cfg.CacheTTLS > 0 {
		p.cache = expirable.NewLRU[cacheKey, []byte](cfg.CacheSize, nil, time.Duration(cfg.CacheTTLS)*time.Second)
	}
	if cfg.FetchQPS > 0 {
		p.limiter = limiter.NewLimiter(limiter.LimitConfig{QPS: cfg.FetchQPS})
	}
	return p
}

// Fetch returns the script named by cfg. It fails with NotFound for a blank
// name or a missing object, Timeout when the fetch deadline passes and
// Unreachable for any other store failure. Fetches are never retried.
func (p *PolicyStore) Fetch(ctx context.Context, cfg proto.PolicyConfig) ([]byte, error) {
	span := trace.SpanFromContextSafe(ctx)
	if cfg.IsBlank() {
		return nil, apierrors.New(apierrors.KindNotFound, "fetch", "empty policy name")
	}

	key := cacheKey{name: cfg.Name, epoch: cfg.Epoch}
	if p.cache != nil {
		if script, ok := p.cache.Get(key); ok {
			metrics.PolicyFetch.WithLabelValues(sourceCache).Inc()
			span.Debugf("policy %s hit cache", key)
			return script, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ch := p.singleRun.DoChan(key.String(), func() (interface{}, error) {
		// shared by every waiter, so no single caller may cancel it
		loadCtx, loadCancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer loadCancel()
		return p.load(loadCtx, key)
	})
	select {
	case ret := <-ch:
		if ret.Err != nil {
			return nil, ret.Err
		}
		if ret.Shared {
			span.Debugf("policy %s fetch shared", key)
		}
		return ret.Val.([]byte), nil
	case <-ctx.Done():
		return nil, classify("fetch", ctx.Err())
	}
}

func (p *PolicyStore) load(ctx context.Context, key cacheKey) ([]byte, error) {
	span := trace.SpanFromContextSafe(ctx)
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx); err != nil {
			return nil, apierrors.Wrap(apierrors.KindTimeout, "fetch", err)
		}
		defer p.limiter.Release()
	}

	metrics.PolicyFetch.WithLabelValues(sourceStore).Inc()
	start := time.Now()
	script, err := p.store.Get(ctx, key.name)
	if err != nil {
		span.Warnf("fetch policy %s failed: %s", key, err)
		return nil, classify("fetch", err)
	}
	span.Debugf("fetch policy %s size[%d] cost[%s]", key, len(script), time.Since(start))

	if p.cache != nil {
		p.cache.Add(key, script)
	}
	return script, nil
}

// Invalidate drops the cached script of cfg, if any.
func (p *PolicyStore) Invalidate(cfg proto.PolicyConfig) {
	if p.cache != nil {
		p.cache.Remove(cacheKey{name: cfg.Name, epoch: cfg.Epoch})
	}
}

// Put publishes a policy script under name.
func (p *PolicyStore) Put(ctx context.Context, name proto.PolicyName, script []byte) error {
	cfg := proto.PolicyConfig{Name: name}
	if cfg.IsBlank() {
		return apierrors.New(apierrors.KindInvalidArgument, "put", "empty policy name")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.store.Put(ctx, name, script); err != nil {
		return classify("put", err)
	}
	// cached scripts of any epoch are stale now
	if p.cache != nil {
		for _, key := range p.cache.Keys() {
			if key.name == name {
				p.cache.Remove(key)
			}
		}
	}
	return nil
}

// List returns the names of all published policies.
func (p *PolicyStore) List(ctx context.Context) ([]proto.PolicyName, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	names, err := p.store.List(ctx, "")
	if err != nil {
		return nil, classify("list", err)
	}
	return names, nil
}

type timeoutError interface {
	Timeout() bool
}

func classify(op string, err error) error {
	var te timeoutError
	switch {
	case errors.Is(err, objstore.ErrNoSuchKey):
		return apierrors.Wrap(apierrors.KindNotFound, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apierrors.Wrap(apierrors.KindTimeout, op, err)
	case errors.As(err, &te) && te.Timeout():
		return apierrors.Wrap(apierrors.KindTimeout, op, err)
	default:
		return apierrors.Wrap(apierrors.KindUnreachable, op, err)
	}
}
