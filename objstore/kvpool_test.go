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

package objstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/common/kvstore"
	"github.com/cubefs/mantle/util"
)

func TestKVPool(t *testing.T) {
	ctx := context.Background()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	kvStore, err := kvstore.NewKVStore(ctx, path, kvstore.RocksdbLsmKVType, &kvstore.Option{CreateIfMissing: true})
	require.NoError(t, err)
	defer kvStore.Close()

	pool, err := New(ctx, &Config{Type: TypeRocksdb, KVStore: kvStore})
	require.NoError(t, err)

	_, err = pool.Get(ctx, "greedy.lua")
	require.ErrorIs(t, err, ErrNoSuchKey)

	require.NoError(t, pool.Put(ctx, "greedy.lua", []byte("return {1, 1}")))
	require.NoError(t, pool.Put(ctx, "great.lua", []byte("return {2, 0}")))
	require.NoError(t, pool.Put(ctx, "neighbor.lua", []byte("return {0, 2}")))

	data, err := pool.Get(ctx, "greedy.lua")
	require.NoError(t, err)
	require.Equal(t, "return {1, 1}", string(data))

	keys, err := pool.List(ctx, "gre")
	require.NoError(t, err)
	require.Equal(t, []string{"great.lua", "greedy.lua"}, keys)

	keys, err = pool.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, keys, 3)

	require.NoError(t, pool.Delete(ctx, "great.lua"))
	_, err = pool.Get(ctx, "great.lua")
	require.ErrorIs(t, err, ErrNoSuchKey)
}
