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

package fsmap

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/common/kvstore"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
	"github.com/cubefs/mantle/util"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx, &Config{})
	require.NoError(t, err)
	defer m.Close()

	cfg, err := m.Current(ctx)
	require.NoError(t, err)
	require.False(t, cfg.IsSet())

	_, err = m.SetBalancer(ctx, "")
	require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
	require.Equal(t, apierrors.EINVAL, apierrors.Errno(err))

	cfg, err = m.SetBalancer(ctx, "greedy.lua")
	require.NoError(t, err)
	require.Equal(t, proto.PolicyConfig{Name: "greedy.lua", Epoch: 1}, cfg)

	// same name again is a new version
	cfg, err = m.SetBalancer(ctx, "greedy.lua")
	require.NoError(t, err)
	require.Equal(t, proto.Epoch(2), cfg.Epoch)

	cfg, err = m.SetBalancer(ctx, " ")
	require.NoError(t, err)
	require.True(t, cfg.IsSet())
	require.True(t, cfg.IsBlank())

	cur, err := m.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, cfg, cur)

	_, err = New(ctx, &Config{Type: "zookeeper"})
	require.ErrorIs(t, err, apierrors.ErrUnknownBackend)
}

func TestKVSource(t *testing.T) {
	ctx := context.Background()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	opt := &kvstore.Option{CreateIfMissing: true, ColumnFamily: []kvstore.CF{FsMapCF}}
	kvStore, err := kvstore.NewKVStore(ctx, path, kvstore.RocksdbLsmKVType, opt)
	require.NoError(t, err)

	s, err := New(ctx, &Config{Type: TypeKVStore, FsName: "a", KVStore: kvStore})
	require.NoError(t, err)
	_, err = s.SetBalancer(ctx, "")
	require.Error(t, err)
	_, err = s.SetBalancer(ctx, "greedy.lua")
	require.NoError(t, err)
	_, err = s.SetBalancer(ctx, "neighbor.lua")
	require.NoError(t, err)

	other, err := NewKVSource(ctx, kvStore, "b")
	require.NoError(t, err)
	cfg, err := other.Current(ctx)
	require.NoError(t, err)
	require.False(t, cfg.IsSet())
	kvStore.Close()

	kvStore, err = kvstore.NewKVStore(ctx, path, kvstore.RocksdbLsmKVType, opt)
	require.NoError(t, err)
	defer kvStore.Close()
	s, err = NewKVSource(ctx, kvStore, "a")
	require.NoError(t, err)
	cfg, err = s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, proto.PolicyConfig{Name: "neighbor.lua", Epoch: 2}, cfg)
}
