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

package mds

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

// Cluster is what the balancer needs from the metadata servers.
type Cluster interface {
	// ActiveRanks returns the active ranks in ascending order.
	ActiveRanks(ctx context.Context) ([]proto.Rank, error)
	// Snapshot captures the metrics of every active rank at once.
	Snapshot(ctx context.Context) (proto.MetricsSnapshot, error)
	Assignment(ctx context.Context) (proto.Assignment, error)
	// Export submits instructions issued by one rank. Implementations
	// serialize concurrent exports from different ranks.
	Export(ctx context.Context, from proto.Rank, ins []proto.ExportInstruction) error
}

type Config struct {
	Ranks int `json:"ranks"`
}

var ErrExportRejected = errors.New("export rejected")

// Table is an in-process metadata server cluster: per-rank metrics and the
// assigned load, updated by the exports it accepts.
type Table struct {
	active     map[proto.Rank]struct{}
	metrics    map[proto.Rank]proto.RankMetrics
	assignment proto.Assignment
	exports    []proto.ExportInstruction
	exportErr  error

	lock sync.Mutex
}

// NewTable returns a table with ranks 0..n-1 active and no load.
func NewTable(n int) *Table {
	t := &Table{
		active:     make(map[proto.Rank]struct{}),
		metrics:    make(map[proto.Rank]proto.RankMetrics),
		assignment: make(proto.Assignment),
	}
	for i := 0; i < n; i++ {
		r := proto.Rank(i)
		t.active[r] = struct{}{}
		t.metrics[r] = proto.RankMetrics{Rank: r}
		t.assignment[r] = 0
	}
	return t
}

func (t *Table) ActiveRanks(ctx context.Context) ([]proto.Rank, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.activeRanks(), nil
}

func (t *Table) activeRanks() []proto.Rank {
	ranks := make([]proto.Rank, 0, len(t.active))
	for r := range t.active {
		ranks = append(ranks, r)
	}
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
	return ranks
}

func (t *Table) Snapshot(ctx context.Context) (proto.MetricsSnapshot, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	ranks := t.activeRanks()
	ms := make([]proto.RankMetrics, 0, len(ranks))
	for _, r := range ranks {
		m := t.metrics[r]
		m.Rank = r
		ms = append(ms, m)
	}
	return proto.NewMetricsSnapshot(ms, time.Now()), nil
}

func (t *Table) Assignment(ctx context.Context) (proto.Assignment, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.assignment.Clone(), nil
}

func (t *Table) Export(ctx context.Context, from proto.Rank, ins []proto.ExportInstruction) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.exportErr != nil {
		return t.exportErr
	}
	if _, ok := t.active[from]; !ok {
		return apierrors.ErrRankNotActive
	}
	for _, in := range ins {
		if in.From != from {
			return apierrors.Newf(apierrors.KindInvalidArgument, "export",
				"rank %d cannot export subtrees of rank %d", from, in.From)
		}
		if _, ok := t.active[in.To]; !ok {
			return apierrors.Newf(apierrors.KindInvalidArgument, "export", "target rank %d is not active", in.To)
		}
	}
	for _, in := range ins {
		t.assignment[in.From] -= in.Load
		t.assignment[in.To] += in.Load
		t.exports = append(t.exports, in)
	}
	return nil
}

// SetMetrics replaces the metrics of m.Rank. The rank's assigned load
// follows m.Load.
func (t *Table) SetMetrics(m proto.RankMetrics) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.metrics[m.Rank] = m
	t.assignment[m.Rank] = m.Load
}

// SetActive adds or removes rank from the active set.
func (t *Table) SetActive(rank proto.Rank, active bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if active {
		t.active[rank] = struct{}{}
		if _, ok := t.metrics[rank]; !ok {
			t.metrics[rank] = proto.RankMetrics{Rank: rank}
		}
		return
	}
	delete(t.active, rank)
}

// SetExportError makes every following export fail with err.
func (t *Table) SetExportError(err error) {
	t.lock.Lock()
	t.exportErr = err
	t.lock.Unlock()
}

// Exports returns every instruction accepted so far.
func (t *Table) Exports() []proto.ExportInstruction {
	t.lock.Lock()
	defer t.lock.Unlock()
	ret := make([]proto.ExportInstruction, len(t.exports))
	copy(ret, t.exports)
	return ret
}
