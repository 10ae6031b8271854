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

	"go.uber.org/atomic"

	"github.com/cubefs/mantle/common/kvstore"
	"github.com/cubefs/mantle/proto"
	"github.com/cubefs/mantle/util"
)

const LogCF = kvstore.CF("clog")

// KVLog persists records in sequence order, keyed by a big endian sequence
// number that continues across restarts.
type KVLog struct {
	kvStore kvstore.Store
	seq     atomic.Uint64
}

func NewKVLog(ctx context.Context, kvStore kvstore.Store) (*KVLog, error) {
	if kvStore == nil {
		return nil, errors.New("kv store is not configured")
	}
	if err := kvStore.CreateColumn(LogCF); err != nil {
		return nil, err
	}

	l := &KVLog{kvStore: kvStore}
	lr := kvStore.List(ctx, LogCF, nil, nil)
	defer lr.Close()
	kg, vg, err := lr.ReadLast()
	if err != nil {
		return nil, err
	}
	if kg != nil {
		l.seq.Store(util.DecodeUint64(kg.Key()))
		kg.Close()
		vg.Close()
	}
	return l, nil
}

func (l *KVLog) Append(ctx context.Context, rec proto.CycleRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	seq := l.seq.Inc()
	return l.kvStore.SetRaw(ctx, LogCF, util.EncodeUint64(seq), data)
}

// List returns up to limit records with a sequence number of at least from.
func (l *KVLog) List(ctx context.Context, from uint64, limit int) ([]proto.CycleRecord, error) {
	lr := l.kvStore.List(ctx, LogCF, nil, util.EncodeUint64(from))
	defer lr.Close()

	var ret []proto.CycleRecord
	for limit <= 0 || len(ret) < limit {
		_, v, err := lr.ReadNextCopy()
		if err != nil {
			return nil, err
		}
		if v == nil {
			break
		}
		var rec proto.CycleRecord
		if err = rec.Unmarshal(v); err != nil {
			return nil, err
		}
		ret = append(ret, rec)
	}
	return ret, nil
}

// LastSeq returns the sequence number of the newest record.
func (l *KVLog) LastSeq() uint64 {
	return l.seq.Load()
}
