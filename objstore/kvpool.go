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
	"errors"

	"github.com/cubefs/mantle/common/kvstore"
	"github.com/cubefs/mantle/util"
)

const PolicyCF = kvstore.CF("policy")

// KVPool stores policy objects in a local rocksdb column family.
type KVPool struct {
	kvStore kvstore.Store
}

func NewKVPool(kvStore kvstore.Store) (*KVPool, error) {
	if kvStore == nil {
		return nil, errors.New("kv store is not configured")
	}
	if err := kvStore.CreateColumn(PolicyCF); err != nil {
		return nil, err
	}
	return &KVPool{kvStore: kvStore}, nil
}

func (p *KVPool) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := p.kvStore.GetRaw(ctx, PolicyCF, util.StringsToBytes(key))
	if err == kvstore.ErrNotFound {
		return nil, ErrNoSuchKey
	}
	return data, err
}

func (p *KVPool) Put(ctx context.Context, key string, data []byte) error {
	return p.kvStore.SetRaw(ctx, PolicyCF, []byte(key), data)
}

func (p *KVPool) Delete(ctx context.Context, key string) error {
	return p.kvStore.Delete(ctx, PolicyCF, []byte(key))
}

func (p *KVPool) List(ctx context.Context, prefix string) ([]string, error) {
	var pfx []byte
	if prefix != "" {
		pfx = []byte(prefix)
	}
	lr := p.kvStore.List(ctx, PolicyCF, pfx, nil)
	defer lr.Close()

	var keys []string
	for {
		k, _, err := lr.ReadNextCopy()
		if err != nil {
			return nil, err
		}
		if k == nil {
			break
		}
		keys = append(keys, string(k))
	}
	return keys, nil
}
