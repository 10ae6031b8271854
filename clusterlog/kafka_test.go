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
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/proto"
)

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	return nil
}

func TestKafkaLog(t *testing.T) {
	ctx := context.Background()
	w := &mockWriter{}
	k := &KafkaLog{writer: w, timeout: time.Second}

	rec := record(3, "no load migrated; mantle failed for balancer=ghost.lua : (2) No such file or directory")
	require.NoError(t, k.Append(ctx, rec))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "3", string(w.msgs[0].Key))

	var got proto.CycleRecord
	require.NoError(t, got.Unmarshal(w.msgs[0].Value))
	require.Equal(t, rec.Message, got.Message)
	require.Equal(t, rec.Rank, got.Rank)

	w.err = errors.New("broker down")
	require.Error(t, k.Append(ctx, rec))
}

func TestNewKafkaLog(t *testing.T) {
	_, err := NewKafkaLog(&KafkaConfig{Topic: "mantle"})
	require.Error(t, err)
	_, err = NewKafkaLog(&KafkaConfig{Brokers: []string{"127.0.0.1:9092"}})
	require.Error(t, err)

	cfg := &KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "mantle"}
	k, err := NewKafkaLog(cfg)
	require.NoError(t, err)
	require.Equal(t, defaultKafkaWriteTimeoutMs, cfg.WriteTimeoutMs)
	k.Close()
}
