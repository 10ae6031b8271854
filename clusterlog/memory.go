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

package clusterlog

import (
	"context"
	"strings"
	"sync"

	"github.com/cubefs/mantle/proto"
)

const defaultMemoryCapacity = 4096

// MemoryLog keeps the most recent records in process and lets callers wait
// for a message to show up.
type MemoryLog struct {
	records  []proto.CycleRecord
	capacity int
	// notify is closed and replaced on every append
	notify chan struct{}

	lock sync.RWMutex
}

func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryLog{
		capacity: capacity,
		notify:   make(chan struct{}),
	}
}

func (m *MemoryLog) Append(ctx context.Context, rec proto.CycleRecord) error {
	m.lock.Lock()
	if len(m.records) == m.capacity {
		copy(m.records, m.records[1:])
		m.records = m.records[:len(m.records)-1]
	}
	m.records = append(m.records, rec)
	close(m.notify)
	m.notify = make(chan struct{})
	m.lock.Unlock()
	return nil
}

// Records returns all retained records, oldest first.
func (m *MemoryLog) Records() []proto.CycleRecord {
	return m.Recent(0)
}

// Recent returns at most limit of the newest records, oldest first. A
// limit of zero returns everything retained.
func (m *MemoryLog) Recent(limit int) []proto.CycleRecord {
	m.lock.RLock()
	defer m.lock.RUnlock()
	start := 0
	if limit > 0 && limit < len(m.records) {
		start = len(m.records) - limit
	}
	ret := make([]proto.CycleRecord, len(m.records)-start)
	copy(ret, m.records[start:])
	return ret
}

func (m *MemoryLog) Contains(substr string) bool {
	ok, _ := m.contains(substr)
	return ok
}

func (m *MemoryLog) contains(substr string) (bool, <-chan struct{}) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	for i := range m.records {
		if strings.Contains(m.records[i].Message, substr) {
			return true, nil
		}
	}
	return false, m.notify
}

// Await blocks until a record containing substr is appended or ctx ends.
func (m *MemoryLog) Await(ctx context.Context, substr string) error {
	for {
		ok, notify := m.contains(substr)
		if ok {
			return nil
		}
		select {
		case <-notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Count returns how many retained records contain substr.
func (m *MemoryLog) Count(substr string) int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	n := 0
	for i := range m.records {
		if strings.Contains(m.records[i].Message, substr) {
			n++
		}
	}
	return n
}
