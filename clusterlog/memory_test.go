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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/proto"
)

func record(rank proto.Rank, msg string) proto.CycleRecord {
	return proto.CycleRecord{Rank: rank, Policy: "greedy.lua", Epoch: 1, Message: msg, Stamp: time.Now()}
}

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, record(0, fmt.Sprintf("msg-%d", i))))
	}

	recs := m.Records()
	require.Len(t, recs, 3)
	require.Equal(t, "msg-2", recs[0].Message)
	require.Equal(t, "msg-4", recs[2].Message)

	recent := m.Recent(2)
	require.Equal(t, []string{"msg-3", "msg-4"}, []string{recent[0].Message, recent[1].Message})
	require.Len(t, m.Recent(10), 3)

	require.True(t, m.Contains("msg-3"))
	require.False(t, m.Contains("msg-0"))
	require.Equal(t, 3, m.Count("msg-"))
}

func TestMemoryLogAwait(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog(0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Append(ctx, record(1, "noise"))
		time.Sleep(10 * time.Millisecond)
		m.Append(ctx, record(1, "mantle balancer version changed: valid.lua"))
	}()

	actx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Await(actx, "balancer version changed: valid.lua"))

	tctx, cancel2 := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel2()
	require.ErrorIs(t, m.Await(tctx, "never"), context.DeadlineExceeded)
}

type errLog struct{ err error }

func (e errLog) Append(ctx context.Context, rec proto.CycleRecord) error {
	return e.err
}

func TestTee(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemoryLog(0), NewMemoryLog(0)
	tee := Tee{a, errLog{err: fmt.Errorf("sink down")}, b}

	err := tee.Append(ctx, record(0, "hello"))
	require.ErrorContains(t, err, "sink down")
	require.True(t, a.Contains("hello"))
	require.True(t, b.Contains("hello"))

	require.NoError(t, Tee{a, b}.Append(ctx, record(0, "again")))
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	l, mem, err := New(ctx, &Config{})
	require.NoError(t, err)
	require.Equal(t, Log(mem), l)

	_, _, err = New(ctx, &Config{Sinks: []string{"syslog"}})
	require.Error(t, err)

	_, _, err = New(ctx, &Config{Sinks: []string{SinkKVStore}})
	require.Error(t, err)

	_, _, err = New(ctx, &Config{Sinks: []string{SinkKafka}})
	require.Error(t, err)

	l, _, err = New(ctx, &Config{Sinks: []string{SinkMemory, SinkKafka}, Kafka: KafkaConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "mantle",
	}})
	require.NoError(t, err)
	require.IsType(t, Tee{}, l)
	l.(Tee).Close()
}
