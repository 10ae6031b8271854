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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/api/v3/etcdserverpb"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cubefs/mantle/proto"
)

type mockEtcd struct {
	rev      int64
	kv       *mvccpb.KeyValue
	watchers []chan clientv3.WatchResponse
	lock     sync.Mutex
}

func (m *mockEtcd) Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	resp := &clientv3.GetResponse{Header: &etcdserverpb.ResponseHeader{Revision: m.rev}}
	if m.kv != nil {
		resp.Kvs = []*mvccpb.KeyValue{m.kv}
	}
	return resp, nil
}

func (m *mockEtcd) Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	m.lock.Lock()
	m.rev++
	m.kv = &mvccpb.KeyValue{Key: []byte(key), Value: []byte(val), ModRevision: m.rev}
	ev := &clientv3.Event{Type: mvccpb.PUT, Kv: m.kv}
	watchers := m.watchers
	rev := m.rev
	m.lock.Unlock()

	for _, ch := range watchers {
		ch <- clientv3.WatchResponse{Events: []*clientv3.Event{ev}}
	}
	return &clientv3.PutResponse{Header: &etcdserverpb.ResponseHeader{Revision: rev}}, nil
}

// put writes behind the source's back, as another monitor would.
func (m *mockEtcd) put(key, val string) {
	m.Put(context.Background(), key, val)
}

func (m *mockEtcd) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	ch := make(chan clientv3.WatchResponse, 16)
	m.lock.Lock()
	m.watchers = append(m.watchers, ch)
	m.lock.Unlock()
	out := make(chan clientv3.WatchResponse)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case resp := <-ch:
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (m *mockEtcd) Close() error {
	return nil
}

func TestEtcdSource(t *testing.T) {
	ctx := context.Background()
	cli := &mockEtcd{rev: 10}
	cli.put(BalancerKey("cephfs"), "greedy.lua")

	s, err := newEtcdSource(ctx, cli, "cephfs", 0)
	require.NoError(t, err)
	defer s.Close()

	cfg, err := s.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, proto.PolicyConfig{Name: "greedy.lua", Epoch: 11}, cfg)

	_, err = s.SetBalancer(ctx, "")
	require.Error(t, err)
	cfg, err = s.SetBalancer(ctx, "neighbor.lua")
	require.NoError(t, err)
	require.Equal(t, proto.PolicyConfig{Name: "neighbor.lua", Epoch: 12}, cfg)

	cli.put(BalancerKey("cephfs"), "valid.lua")
	require.Eventually(t, func() bool {
		cfg, _ := s.Current(ctx)
		return cfg.Name == "valid.lua" && cfg.Epoch == 13
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewEtcdSourceConfig(t *testing.T) {
	_, err := NewEtcdSource(context.Background(), &EtcdConfig{}, "cephfs")
	require.Error(t, err)
	require.Equal(t, "/mantle/fs/cephfs/balancer", BalancerKey("cephfs"))
}
