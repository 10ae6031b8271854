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

package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/taskpool"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/cubefs/mantle/balancer/applier"
	"github.com/cubefs/mantle/balancer/policystore"
	"github.com/cubefs/mantle/balancer/reporter"
	"github.com/cubefs/mantle/balancer/sandbox"
	"github.com/cubefs/mantle/clusterlog"
	"github.com/cubefs/mantle/fsmap"
	"github.com/cubefs/mantle/mds"
	"github.com/cubefs/mantle/proto"
)

const (
	defaultTickIntervalMs = 10000
	defaultTaskPoolSize   = 16
)

type Config struct {
	TickIntervalMs int            `json:"tick_interval_ms"`
	TaskPoolSize   int            `json:"task_pool_size"`
	Sandbox        sandbox.Config `json:"sandbox"`
	Applier        applier.Config `json:"applier"`

	FsMap   fsmap.Source             `json:"-"`
	Cluster mds.Cluster              `json:"-"`
	Store   *policystore.PolicyStore `json:"-"`
	Log     clusterlog.Log           `json:"-"`
}

type rankState struct {
	running atomic.Bool
	stage   atomic.Uint32

	last *proto.CycleRecord
	lock sync.RWMutex
}

func (s *rankState) setStage(stage proto.Stage) {
	s.stage.Store(uint32(stage))
}

func (s *rankState) status(rank proto.Rank) proto.RankStatus {
	s.lock.RLock()
	defer s.lock.RUnlock()
	st := proto.RankStatus{Rank: rank, Stage: proto.Stage(s.stage.Load())}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	return st
}

// Balancer runs one policy cycle per active rank on every tick. Cycles of
// different ranks run concurrently, cycles of one rank never overlap.
type Balancer struct {
	fsMap    fsmap.Source
	cluster  mds.Cluster
	store    *policystore.PolicyStore
	sandbox  *sandbox.Sandbox
	applier  *applier.Applier
	reporter *reporter.Reporter

	interval time.Duration
	taskPool taskpool.TaskPool
	ranks    map[proto.Rank]*rankState
	lock     sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool
	closed   atomic.Bool
}

func NewBalancer(cfg *Config) *Balancer {
	if cfg.TickIntervalMs <= 0 {
		cfg.TickIntervalMs = defaultTickIntervalMs
	}
	if cfg.TaskPoolSize <= 0 {
		cfg.TaskPoolSize = defaultTaskPoolSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Balancer{
		fsMap:    cfg.FsMap,
		cluster:  cfg.Cluster,
		store:    cfg.Store,
		sandbox:  sandbox.New(&cfg.Sandbox),
		applier:  applier.New(&cfg.Applier),
		reporter: reporter.New(cfg.Log),
		interval: time.Duration(cfg.TickIntervalMs) * time.Millisecond,
		taskPool: taskpool.New(cfg.TaskPoolSize, cfg.TaskPoolSize),
		ranks:    make(map[proto.Rank]*rankState),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start ticks in the background until Close.
func (b *Balancer) Start() {
	if b.started.CompareAndSwap(false, true) {
		go b.loop()
	}
}

func (b *Balancer) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.done)
	if b.started.Load() {
		<-b.loopDone
	}
	b.cancel()
	b.taskPool.Close()
}

func (b *Balancer) loop() {
	ticker := time.NewTicker(b.interval)
	defer func() {
		ticker.Stop()
		close(b.loopDone)
	}()

	for {
		select {
		case <-ticker.C:
			b.tick()
		case <-b.done:
			return
		}
	}
}

// tick submits a cycle for every active rank that is not already running one.
func (b *Balancer) tick() {
	span, ctx := trace.StartSpanFromContext(b.ctx, "balancer-tick")
	ranks, err := b.cluster.ActiveRanks(ctx)
	if err != nil {
		span.Warnf("list active ranks failed: %s", err)
		return
	}

	for _, rank := range ranks {
		rank := rank
		if b.rankState(rank).running.Load() {
			span.Debugf("rank %d cycle still in flight, skip", rank)
			continue
		}
		if !b.taskPool.TryRun(func() {
			if _, err := b.RunCycle(b.ctx, rank); err != nil {
				span.Debugf("rank %d no cycle: %s", rank, err)
			}
		}) {
			span.Warnf("task pool is full, rank %d waits for next tick", rank)
		}
	}
}

func (b *Balancer) rankState(rank proto.Rank) *rankState {
	b.lock.RLock()
	st := b.ranks[rank]
	b.lock.RUnlock()
	if st != nil {
		return st
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	if st = b.ranks[rank]; st == nil {
		st = &rankState{}
		b.ranks[rank] = st
	}
	return st
}

type Status struct {
	Policy proto.PolicyConfig `json:"policy"`
	Ranks  []proto.RankStatus `json:"ranks"`
}

func (b *Balancer) Status(ctx context.Context) (Status, error) {
	cfg, err := b.fsMap.Current(ctx)
	if err != nil {
		return Status{}, err
	}
	ret := Status{Policy: cfg}

	b.lock.RLock()
	ranks := make([]proto.Rank, 0, len(b.ranks))
	for rank := range b.ranks {
		ranks = append(ranks, rank)
	}
	b.lock.RUnlock()
	sortRanks(ranks)

	for _, rank := range ranks {
		ret.Ranks = append(ret.Ranks, b.rankState(rank).status(rank))
	}
	return ret, nil
}

// newCycleContext gives every cycle its own trace id, shared by the log
// lines of all its stages and stamped on its record.
func newCycleContext(ctx context.Context) (trace.Span, context.Context) {
	return trace.StartSpanFromContextWithTraceID(ctx, "balancer-cycle", uuid.NewString())
}
