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
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrStoreDown = errors.New("object store is down")

// MemoryStore keeps objects in process. Its availability can be degraded to
// emulate a dead or slow store.
type MemoryStore struct {
	objects     map[string][]byte
	unreachable bool
	delay       time.Duration
	gets        int

	lock sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.lock.Lock()
	m.gets++
	delay, down := m.delay, m.unreachable
	m.lock.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if down {
		return nil, ErrStoreDown
	}

	m.lock.RLock()
	defer m.lock.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNoSuchKey
	}
	ret := make([]byte, len(data))
	copy(ret, data)
	return ret, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.unreachable {
		return ErrStoreDown
	}
	m.objects[key] = cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.unreachable {
		return ErrStoreDown
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.unreachable {
		return nil, ErrStoreDown
	}
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) SetUnreachable(down bool) {
	m.lock.Lock()
	m.unreachable = down
	m.lock.Unlock()
}

// SetDelay makes every Get block for d, or until its context ends.
func (m *MemoryStore) SetDelay(d time.Duration) {
	m.lock.Lock()
	m.delay = d
	m.lock.Unlock()
}

// Gets returns how many reads reached the store.
func (m *MemoryStore) Gets() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.gets
}
