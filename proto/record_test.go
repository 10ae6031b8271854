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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStageJSON(t *testing.T) {
	st := RankStatus{Rank: 2, Stage: StageValidating}
	data, err := json.Marshal(st)
	require.NoError(t, err)
	require.Contains(t, string(data), `"stage":"Validating"`)

	var got RankStatus
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, st, got)

	require.Error(t, json.Unmarshal([]byte(`{"stage":"Sleeping"}`), &got))
	require.Equal(t, "Unknown", Stage(42).String())
}

func TestCycleRecord(t *testing.T) {
	rec := CycleRecord{
		Rank:    1,
		Policy:  "greedy.lua",
		Epoch:   3,
		Message: "mantle balancer version changed: greedy.lua",
		Success: true,
		Exports: 2,
		Stamp:   time.Unix(1700000000, 0).UTC(),
	}
	data, err := rec.Marshal()
	require.NoError(t, err)

	var got CycleRecord
	require.NoError(t, got.Unmarshal(data))
	require.Equal(t, rec, got)
}

func TestPolicyConfig(t *testing.T) {
	require.False(t, PolicyConfig{Name: "greedy.lua"}.IsSet())
	require.True(t, PolicyConfig{Name: "greedy.lua", Epoch: 1}.IsSet())
	require.True(t, PolicyConfig{Name: " \t", Epoch: 1}.IsBlank())
	require.False(t, PolicyConfig{Name: "greedy.lua", Epoch: 1}.IsBlank())
}

func TestMetricsSnapshot(t *testing.T) {
	ranks := []RankMetrics{{Rank: 0, Load: 4}, {Rank: 3, Load: 1}}
	s := NewMetricsSnapshot(ranks, time.Now())
	ranks[0].Load = 100

	require.Equal(t, 2, s.Len())
	m, ok := s.At(0)
	require.True(t, ok)
	require.Equal(t, float64(4), m.Load)
	_, ok = s.At(2)
	require.False(t, ok)
	require.Equal(t, []Rank{0, 3}, s.Ranks())

	a := Assignment{3: 1, 0: 4}
	cp := a.Clone()
	cp[0] = 0
	require.Equal(t, float64(4), a[0])
	require.Equal(t, []Rank{0, 3}, a.SortedRanks())
}
