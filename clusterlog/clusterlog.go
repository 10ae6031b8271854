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
	"errors"
	"fmt"

	"github.com/cubefs/mantle/common/kvstore"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

const (
	SinkMemory  = "memory"
	SinkKVStore = "kvstore"
	SinkKafka   = "kafka"
)

// Log is the append only cluster log operators and test harnesses grep.
type Log interface {
	Append(ctx context.Context, rec proto.CycleRecord) error
}

type Config struct {
	// Sinks lists the extra sinks records go to. The in-memory log is
	// always kept for the admin API.
	Sinks          []string    `json:"sinks"`
	MemoryCapacity int         `json:"memory_capacity"`
	Kafka          KafkaConfig `json:"kafka"`

	KVStore kvstore.Store `json:"-"`
}

// New builds the configured cluster log. The returned memory log also
// receives every record.
func New(ctx context.Context, cfg *Config) (Log, *MemoryLog, error) {
	mem := NewMemoryLog(cfg.MemoryCapacity)
	sinks := []Log{mem}
	for _, sink := range cfg.Sinks {
		switch sink {
		case SinkMemory:
		case SinkKVStore:
			kvLog, err := NewKVLog(ctx, cfg.KVStore)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, kvLog)
		case SinkKafka:
			kafkaLog, err := NewKafkaLog(&cfg.Kafka)
			if err != nil {
				return nil, nil, err
			}
			sinks = append(sinks, kafkaLog)
		default:
			return nil, nil, fmt.Errorf("%w: cluster log sink %q", apierrors.ErrUnknownBackend, sink)
		}
	}
	if len(sinks) == 1 {
		return mem, mem, nil
	}
	return Tee(sinks), mem, nil
}

// Tee appends every record to all of its sinks.
type Tee []Log

func (t Tee) Append(ctx context.Context, rec proto.CycleRecord) error {
	var errs []error
	for _, sink := range t {
		if err := sink.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Close() {
	for _, sink := range t {
		if c, ok := sink.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
