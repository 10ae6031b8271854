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

package proto

import (
	"sort"
	"time"
)

// RankMetrics is the load measured on one active rank.
type RankMetrics struct {
	Rank       Rank    `json:"rank"`
	Load       float64 `json:"load"`
	AuthLoad   float64 `json:"auth_load"`
	ReqRate    float64 `json:"req_rate"`
	QueueLen   int64   `json:"queue_len"`
	CPULoadAvg float64 `json:"cpu_load_avg"`
}

// MetricsSnapshot is captured once per cycle and never mutated afterwards.
// Position i holds the i-th active rank.
type MetricsSnapshot struct {
	ranks   []RankMetrics
	TakenAt time.Time
}

func NewMetricsSnapshot(ranks []RankMetrics, takenAt time.Time) MetricsSnapshot {
	cp := make([]RankMetrics, len(ranks))
	copy(cp, ranks)
	return MetricsSnapshot{ranks: cp, TakenAt: takenAt}
}

func (s MetricsSnapshot) Len() int {
	return len(s.ranks)
}

func (s MetricsSnapshot) At(i int) (RankMetrics, bool) {
	if i < 0 || i >= len(s.ranks) {
		return RankMetrics{}, false
	}
	return s.ranks[i], true
}

func (s MetricsSnapshot) Ranks() []Rank {
	ret := make([]Rank, len(s.ranks))
	for i := range s.ranks {
		ret[i] = s.ranks[i].Rank
	}
	return ret
}

// MigrationDecision holds one non-negative target load per active rank, in
// snapshot order.
type MigrationDecision []int64

// Assignment is the load currently assigned to each rank.
type Assignment map[Rank]float64

func (a Assignment) Clone() Assignment {
	ret := make(Assignment, len(a))
	for k, v := range a {
		ret[k] = v
	}
	return ret
}

func (a Assignment) SortedRanks() []Rank {
	ret := make([]Rank, 0, len(a))
	for r := range a {
		ret = append(ret, r)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// ExportInstruction moves Load worth of subtrees from rank From to rank To.
type ExportInstruction struct {
	From Rank    `json:"from"`
	To   Rank    `json:"to"`
	Load float64 `json:"load"`
}
