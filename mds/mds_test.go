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
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

func TestTable(t *testing.T) {
	ctx := context.Background()
	tb := NewTable(2)

	ranks, err := tb.ActiveRanks(ctx)
	require.NoError(t, err)
	require.Equal(t, []proto.Rank{0, 1}, ranks)

	tb.SetMetrics(proto.RankMetrics{Rank: 0, Load: 10, ReqRate: 3})
	tb.SetActive(2, true)
	snap, err := tb.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.Len())
	m, ok := snap.At(0)
	require.True(t, ok)
	require.Equal(t, float64(10), m.Load)
	require.Equal(t, []proto.Rank{0, 1, 2}, snap.Ranks())

	// snapshots are not affected by later updates
	tb.SetMetrics(proto.RankMetrics{Rank: 0, Load: 99})
	m, _ = snap.At(0)
	require.Equal(t, float64(10), m.Load)

	a, err := tb.Assignment(ctx)
	require.NoError(t, err)
	require.Equal(t, proto.Assignment{0: 99, 1: 0, 2: 0}, a)
}

func TestTableExport(t *testing.T) {
	ctx := context.Background()
	tb := NewTable(3)
	tb.SetMetrics(proto.RankMetrics{Rank: 0, Load: 9})

	err := tb.Export(ctx, 0, []proto.ExportInstruction{{From: 0, To: 1, Load: 3}, {From: 0, To: 2, Load: 3}})
	require.NoError(t, err)
	a, _ := tb.Assignment(ctx)
	require.Equal(t, proto.Assignment{0: 3, 1: 3, 2: 3}, a)
	require.Len(t, tb.Exports(), 2)

	err = tb.Export(ctx, 1, []proto.ExportInstruction{{From: 0, To: 1, Load: 1}})
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)

	tb.SetActive(2, false)
	err = tb.Export(ctx, 0, []proto.ExportInstruction{{From: 0, To: 2, Load: 1}})
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	err = tb.Export(ctx, 2, nil)
	require.ErrorIs(t, err, apierrors.ErrRankNotActive)

	tb.SetExportError(ErrExportRejected)
	err = tb.Export(ctx, 0, nil)
	require.ErrorIs(t, err, ErrExportRejected)
	require.Len(t, tb.Exports(), 2)
}
