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
	"sync"

	"github.com/cubefs/mantle/proto"
)

// Memory keeps the configuration in process. Every SetBalancer bumps the
// epoch, even when the name does not change.
type Memory struct {
	cfg  proto.PolicyConfig
	lock sync.RWMutex
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Current(ctx context.Context) (proto.PolicyConfig, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.cfg, nil
}

func (m *Memory) SetBalancer(ctx context.Context, name proto.PolicyName) (proto.PolicyConfig, error) {
	if err := checkName(name); err != nil {
		return proto.PolicyConfig{}, err
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	m.cfg = proto.PolicyConfig{Name: name, Epoch: m.cfg.Epoch + 1}
	return m.cfg, nil
}

func (m *Memory) Close() {}
