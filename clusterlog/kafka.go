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
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cubefs/mantle/proto"
)

const defaultKafkaWriteTimeoutMs = 10000

type KafkaConfig struct {
	Brokers        []string `json:"brokers"`
	Topic          string   `json:"topic"`
	WriteTimeoutMs int      `json:"write_timeout_ms"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaLog publishes records as JSON, keyed by rank so one rank's records
// stay ordered within a partition.
type KafkaLog struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaLog(cfg *KafkaConfig) (*KafkaLog, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if cfg.WriteTimeoutMs <= 0 {
		cfg.WriteTimeoutMs = defaultKafkaWriteTimeoutMs
	}
	timeout := time.Duration(cfg.WriteTimeoutMs) * time.Millisecond
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaLog{writer: w, timeout: timeout}, nil
}

func (k *KafkaLog) Append(ctx context.Context, rec proto.CycleRecord) error {
	data, err := rec.Marshal()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.Itoa(int(rec.Rank))),
		Value: data,
		Time:  rec.Stamp,
	})
}

func (k *KafkaLog) Close() {
	k.writer.Close()
}
