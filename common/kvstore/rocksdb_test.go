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

package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/cubefs/mantle/util"
	"github.com/stretchr/testify/require"
)

type testEg struct {
	engine Store
	path   string
	opt    *Option
}

func newEngine(ctx context.Context, opt *Option) (*testEg, error) {
	path, err := util.GenTmpPath()
	if err != nil {
		return nil, err
	}
	if opt == nil {
		opt = new(Option)
	}
	opt.CreateIfMissing = true
	opt.Sync = true
	engine, err := newRocksdb(ctx, path, opt)
	if err != nil {
		return nil, err
	}
	return &testEg{
		engine: engine,
		path:   path,
		opt:    opt,
	}, nil
}

func (eg *testEg) close() {
	eg.engine.Close()
	os.RemoveAll(eg.path)
}

func Test_openRocksdb(t *testing.T) {
	ctx := context.TODO()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	opt := new(Option)
	opt.CreateIfMissing = true
	opt.BlockSize = 1 << 20
	opt.BlockCache = 1 << 20
	opt.KeepLogFileNum = 10
	opt.MaxLogFileSize = 1 << 30
	opt.ColumnFamily = []CF{"policy", "clog", "fsmap"}
	eg, err := newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	eg.Close()

	// open with empty path
	_, err = newRocksdb(ctx, "", opt)
	require.Equal(t, errors.New("path is empty"), err)
	// reopen db
	eg, err = newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	eg.Close()
	// open with wrong cf
	opt.ColumnFamily = []CF{"policy", "clog"}
	_, err = newRocksdb(ctx, path, opt)
	require.Error(t, err)

	_, err = NewKVStore(ctx, path, LsmKVType("leveldb"), opt)
	require.ErrorIs(t, err, ErrKVTypeNotFound)
}

func TestInstance_CreateColumn(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	require.False(t, eg.engine.CheckColumns("colA"))
	require.NoError(t, eg.engine.CreateColumn("colA"))
	require.NoError(t, eg.engine.CreateColumn("colA"))
	require.True(t, eg.engine.CheckColumns("colA"))
	require.True(t, eg.engine.CheckColumns(""))
}

func TestInstance_SetGetRaw(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	k := []byte("valid_neighbor.lua")
	v := []byte("return {3, 4}")
	require.NoError(t, eg.engine.SetRaw(ctx, defaultCF, k, v))
	v1, err := eg.engine.GetRaw(ctx, defaultCF, k)
	require.NoError(t, err)
	require.Equal(t, v, v1)

	require.NoError(t, eg.engine.Delete(ctx, defaultCF, k))
	_, err = eg.engine.GetRaw(ctx, defaultCF, k)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = eg.engine.GetRaw(ctx, "missing", k)
	require.ErrorIs(t, err, ErrColumnNotExist)
	require.ErrorIs(t, eg.engine.SetRaw(ctx, "missing", k, v), ErrColumnNotExist)
}

func TestWriteBatch(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	col1 := CF("c1")
	require.NoError(t, eg.engine.CreateColumn(col1))

	batch := eg.engine.NewWriteBatch()
	for i := 0; i < 5; i++ {
		batch.Put(col1, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
	}
	require.NoError(t, eg.engine.Write(ctx, batch))
	batch.Close()

	for i := 0; i < 5; i++ {
		v, err := eg.engine.GetRaw(ctx, col1, []byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("v%d", i)), v)
	}

	batch = eg.engine.NewWriteBatch()
	for i := 0; i < 5; i++ {
		batch.Delete(col1, []byte(fmt.Sprintf("k%d", i)))
	}
	require.NoError(t, eg.engine.Write(ctx, batch))
	batch.Close()
	for i := 0; i < 5; i++ {
		_, err = eg.engine.GetRaw(ctx, col1, []byte(fmt.Sprintf("k%d", i)))
		require.Equal(t, ErrNotFound, err)
	}
}

func TestInstance_List(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	for _, kv := range [][2]string{
		{"key1", "value1"}, {"word1", "w1"}, {"key2", "value2"}, {"check", "0"},
		{"word2", "w2"}, {"key3", "value3"}, {"word3", "w3"}, {"xyz", "zyx"},
	} {
		require.NoError(t, eg.engine.SetRaw(ctx, defaultCF, []byte(kv[0]), []byte(kv[1])))
	}

	// prefix read
	ls := eg.engine.List(ctx, defaultCF, []byte("key"), nil)
	for i := 1; ; i++ {
		kg, vg, err := ls.ReadNext()
		require.NoError(t, err)
		if kg == nil {
			require.Equal(t, 4, i)
			break
		}
		require.Equal(t, []byte(fmt.Sprintf("key%d", i)), kg.Key())
		require.Equal(t, []byte(fmt.Sprintf("value%d", i)), vg.Value())
		kg.Close()
		vg.Close()
	}
	ls.Close()

	// marker read
	ls = eg.engine.List(ctx, defaultCF, []byte("word"), []byte("word2"))
	k, v, err := ls.ReadNextCopy()
	require.NoError(t, err)
	require.Equal(t, []byte("word2"), k)
	require.Equal(t, []byte("w2"), v)

	kg, vg, err := ls.ReadLast()
	require.NoError(t, err)
	require.Equal(t, []byte("word3"), kg.Key())
	require.Equal(t, []byte("w3"), vg.Value())
	kg.Close()
	vg.Close()

	ls.SeekTo([]byte("word1"))
	k, _, err = ls.ReadNextCopy()
	require.NoError(t, err)
	require.Equal(t, []byte("word1"), k)
	ls.Close()

	// whole column
	ls = eg.engine.List(ctx, defaultCF, nil, nil)
	kg, _, err = ls.ReadLast()
	require.NoError(t, err)
	require.Equal(t, []byte("xyz"), kg.Key())
	kg.Close()
	ls.Close()
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("kez"), prefixUpperBound([]byte("key")))
	require.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
	require.Nil(t, prefixUpperBound(nil))
}
