// Copyright 2023 The Cuber Authors.
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

package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

type (
	// Limiter bounds both the rate and the concurrency of an operation.
	Limiter interface {
		// Acquire waits for a rate token, bounded by ctx, then takes a
		// concurrency slot without waiting.
		Acquire(ctx context.Context) error
		Release()
		SetConcurrency(value uint32)
		SetQPS(qps int)
		GetConfig() LimitConfig
		Status() Status
	}
	CountLimit interface {
		Running() int
		Acquire() error
		Release()
		SetLimit(limit uint32)
	}
	LimitConfig struct {
		Concurrency int `json:"concurrency"`
		QPS         int `json:"qps"`
	}
	Status struct {
		Config  LimitConfig `json:"config"`
		Running int         `json:"running"`
		Wait    int         `json:"wait_ms"`
	}
	limiter struct {
		config     LimitConfig
		countLimit CountLimit
		rate       *rate.Limiter
		lock       sync.RWMutex
	}
)

func NewLimiter(cfg LimitConfig) Limiter {
	l := &limiter{config: cfg}
	if cfg.Concurrency > 0 {
		l.countLimit = NewCountLimit(cfg.Concurrency)
	}
	if cfg.QPS > 0 {
		l.rate = rate.NewLimiter(rate.Limit(cfg.QPS), cfg.QPS)
	}
	return l
}

func (l *limiter) Acquire(ctx context.Context) error {
	l.lock.RLock()
	r, c := l.rate, l.countLimit
	l.lock.RUnlock()

	if r != nil {
		if err := r.Wait(ctx); err != nil {
			return err
		}
	}
	if c != nil {
		return c.Acquire()
	}
	return nil
}

func (l *limiter) Release() {
	l.lock.RLock()
	c := l.countLimit
	l.lock.RUnlock()
	if c != nil {
		c.Release()
	}
}

func (l *limiter) SetConcurrency(value uint32) {
	l.lock.Lock()
	if l.countLimit == nil {
		l.countLimit = NewCountLimit(int(value))
	} else {
		l.countLimit.SetLimit(value)
	}
	l.config.Concurrency = int(value)
	l.lock.Unlock()
}

func (l *limiter) SetQPS(qps int) {
	l.lock.Lock()
	if l.rate == nil {
		l.rate = rate.NewLimiter(rate.Limit(qps), qps)
	} else {
		l.rate.SetLimit(rate.Limit(qps))
		l.rate.SetBurst(qps)
	}
	l.config.QPS = qps
	l.lock.Unlock()
}

func (l *limiter) GetConfig() LimitConfig {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.config
}

func (l *limiter) Status() Status {
	l.lock.RLock()
	defer l.lock.RUnlock()

	st := Status{Config: l.config}
	if l.countLimit != nil {
		st.Running = l.countLimit.Running()
	}
	st.Wait = rateWait(l.rate)
	return st
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

const minusOne = ^uint32(0)

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	if atomic.AddUint32(&l.current, 1) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, minusOne)
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	atomic.AddUint32(&l.current, minusOne)
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
