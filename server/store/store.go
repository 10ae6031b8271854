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

package store

import (
	"context"

	"github.com/cubefs/mantle/clusterlog"
	"github.com/cubefs/mantle/common/kvstore"
	"github.com/cubefs/mantle/fsmap"
	"github.com/cubefs/mantle/objstore"
)

// ColumnFamilies lists every column family the server keeps in its local
// kv store. Rocksdb refuses to reopen a db unless all of them are named.
var ColumnFamilies = []kvstore.CF{objstore.PolicyCF, clusterlog.LogCF, fsmap.FsMapCF}

type Config struct {
	Path     string         `json:"path"`
	KVOption kvstore.Option `json:"kv_option"`
}

type Store struct {
	kvStore kvstore.Store
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	kvStorePath := cfg.Path + "/kv"
	cfg.KVOption.CreateIfMissing = true
	cfg.KVOption.ColumnFamily = mergeCF(cfg.KVOption.ColumnFamily, ColumnFamilies)
	kvStore, err := kvstore.NewKVStore(ctx, kvStorePath, kvstore.RocksdbLsmKVType, &cfg.KVOption)
	if err != nil {
		return nil, err
	}

	return &Store{kvStore: kvStore}, nil
}

func (s *Store) KVStore() kvstore.Store {
	return s.kvStore
}

func (s *Store) Close() {
	s.kvStore.Close()
}

func mergeCF(have, want []kvstore.CF) []kvstore.CF {
	seen := make(map[kvstore.CF]bool, len(have))
	for _, cf := range have {
		seen[cf] = true
	}
	for _, cf := range want {
		if !seen[cf] {
			have = append(have, cf)
			seen[cf] = true
		}
	}
	return have
}
