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

package applier

import (
	"sort"

	"github.com/cubefs/mantle/proto"
)

type Config struct {
	// MinExportLoad drops moves smaller than this amount of load.
	MinExportLoad float64 `json:"min_export_load"`
}

type ApplyResult struct {
	Instructions []proto.ExportInstruction
	Moved        float64
}

// From returns the instructions rank must issue itself, a rank only ever
// exports its own subtrees.
func (r ApplyResult) From(rank proto.Rank) []proto.ExportInstruction {
	var ret []proto.ExportInstruction
	for _, ins := range r.Instructions {
		if ins.From == rank {
			ret = append(ret, ins)
		}
	}
	return ret
}

type Applier struct {
	minExportLoad float64
}

func New(cfg *Config) *Applier {
	return &Applier{minExportLoad: cfg.MinExportLoad}
}

type rankDelta struct {
	rank proto.Rank
	left float64
}

// Apply plans the exports that move current toward decision. decision[i] is
// the target of ranks[i]. Over-target ranks are drained in order of surplus
// into under-target ranks in order of deficit, ties broken by rank, so the
// same input always yields the same plan and a satisfied decision yields
// none.
func (a *Applier) Apply(ranks []proto.Rank, decision proto.MigrationDecision, current proto.Assignment) ApplyResult {
	var over, under []*rankDelta
	for i, rank := range ranks {
		if i >= len(decision) {
			break
		}
		delta := current[rank] - float64(decision[i])
		switch {
		case delta > 0 && delta >= a.minExportLoad:
			over = append(over, &rankDelta{rank: rank, left: delta})
		case delta < 0 && -delta >= a.minExportLoad:
			under = append(under, &rankDelta{rank: rank, left: -delta})
		}
	}
	sortDeltas(over)
	sortDeltas(under)

	var ret ApplyResult
	for i, j := 0, 0; i < len(over) && j < len(under); {
		from, to := over[i], under[j]
		amount := from.left
		if to.left < amount {
			amount = to.left
		}
		if amount > 0 && amount >= a.minExportLoad {
			ret.Instructions = append(ret.Instructions, proto.ExportInstruction{
				From: from.rank,
				To:   to.rank,
				Load: amount,
			})
			ret.Moved += amount
		}
		if amount == from.left {
			i++
		}
		if amount == to.left {
			j++
		}
		from.left -= amount
		to.left -= amount
	}
	return ret
}

func sortDeltas(ds []*rankDelta) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].left != ds[j].left {
			return ds[i].left > ds[j].left
		}
		return ds[i].rank < ds[j].rank
	})
}
