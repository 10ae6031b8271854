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

package reporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/clusterlog"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

func TestMessages(t *testing.T) {
	require.Equal(t, "mantle balancer version changed: valid_neighbor.lua", SuccessMessage("valid_neighbor.lua"))

	err := apierrors.New(apierrors.KindInvalidArgument, "execute", "index out of range")
	require.Equal(t, "no load migrated; mantle failed for balancer=invalid_neighbor.lua : (22) Invalid argument",
		FailureMessage("invalid_neighbor.lua", err))

	err = apierrors.New(apierrors.KindNotFound, "fetch", "empty policy name")
	require.Equal(t, "no load migrated; mantle failed for balancer=  : (2) No such file or directory",
		FailureMessage(" ", err))
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	mem := clusterlog.NewMemoryLog(0)
	r := New(mem)
	cfg := proto.PolicyConfig{Name: "ghost.lua", Epoch: 4}

	rec := r.Failure(ctx, 1, cfg, apierrors.New(apierrors.KindNotFound, "fetch", "no such key"))
	require.False(t, rec.Success)
	require.Equal(t, apierrors.ENOENT, rec.Errno)
	require.Equal(t, proto.Epoch(4), rec.Epoch)

	rec = r.Success(ctx, 0, proto.PolicyConfig{Name: "valid.lua", Epoch: 5}, 2)
	require.True(t, rec.Success)
	require.Equal(t, 2, rec.Exports)

	recs := mem.Records()
	require.Len(t, recs, 2)
	require.Equal(t, "no load migrated; mantle failed for balancer=ghost.lua : (2) No such file or directory", recs[0].Message)
	require.Equal(t, "mantle balancer version changed: valid.lua", recs[1].Message)
}

type refusingLog struct{ n int }

func (l *refusingLog) Append(ctx context.Context, rec proto.CycleRecord) error {
	l.n++
	return errors.New("log full")
}

func TestReportAppendFailure(t *testing.T) {
	l := &refusingLog{}
	r := New(l)
	rec := r.Failure(context.Background(), 0, proto.PolicyConfig{Name: "a.lua", Epoch: 1},
		apierrors.New(apierrors.KindTimeout, "fetch", "deadline"))
	require.Equal(t, 1, l.n)
	require.Equal(t, apierrors.ETIMEDOUT, rec.Errno)
	require.Contains(t, rec.Message, "(110) Connection timed out")
}
