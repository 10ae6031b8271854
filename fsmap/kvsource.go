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
	"encoding/json"
	"errors"
	"sync"

	"github.com/cubefs/mantle/common/kvstore"
	"github.com/cubefs/mantle/proto"
)

const FsMapCF = kvstore.CF("fsmap")

// KVSource persists the configuration of one filesystem in the local
// store so the epoch survives restarts.
type KVSource struct {
	kvStore kvstore.Store
	key     []byte
	cfg     proto.PolicyConfig

	lock sync.RWMutex
}

func NewKVSource(ctx context.Context, kvStore kvstore.Store, fsName string) (*KVSource, error) {
	if kvStore == nil {
		return nil, errors.New("kv store is not configured")
	}
	if err := kvStore.CreateColumn(FsMapCF); err != nil {
		return nil, err
	}

	s := &KVSource{kvStore: kvStore, key: []byte(fsName)}
	data, err := kvStore.GetRaw(ctx, FsMapCF, s.key)
	switch err {
	case nil:
		if err = json.Unmarshal(data, &s.cfg); err != nil {
			return nil, err
		}
	case kvstore.ErrNotFound:
	default:
		return nil, err
	}
	return s, nil
}

func (s *KVSource) Current(ctx context.Context) (proto.PolicyConfig, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg, nil
}

func (s *KVSource) SetBalancer(ctx context.Context, name proto.PolicyName) (proto.PolicyConfig, error) {
	if err := checkName(name); err != nil {
		return proto.PolicyConfig{}, err
	}
	s.lock.Lock()
	defer s.lock.Unlock()

	cfg := proto.PolicyConfig{Name: name, Epoch: s.cfg.Epoch + 1}
	data, err := json.Marshal(cfg)
	if err != nil {
		return proto.PolicyConfig{}, err
	}
	if err = s.kvStore.SetRaw(ctx, FsMapCF, s.key, data); err != nil {
		return proto.PolicyConfig{}, err
	}
	s.cfg = cfg
	return cfg, nil
}

func (s *KVSource) Close() {}
