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
	"errors"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cubefs/mantle/proto"
)

const (
	defaultDialTimeoutMs    = 5000
	defaultRequestTimeoutMs = 3000
	rewatchInterval         = time.Second
)

type EtcdConfig struct {
	Endpoints        []string `json:"endpoints"`
	DialTimeoutMs    int      `json:"dial_timeout_ms"`
	RequestTimeoutMs int      `json:"request_timeout_ms"`
	Username         string   `json:"username"`
	Password         string   `json:"password"`
}

func BalancerKey(fsName string) string {
	return "/mantle/fs/" + fsName + "/balancer"
}

type etcdClient interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan
	Close() error
}

// EtcdSource stores the balancer name under BalancerKey and uses the key's
// mod revision as the epoch. A watch keeps a local copy so Current never
// does I/O.
type EtcdSource struct {
	client  etcdClient
	key     string
	timeout time.Duration
	cfg     proto.PolicyConfig
	lock    sync.RWMutex

	done   chan struct{}
	cancel context.CancelFunc
}

func NewEtcdSource(ctx context.Context, cfg *EtcdConfig, fsName string) (*EtcdSource, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeoutMs <= 0 {
		cfg.DialTimeoutMs = defaultDialTimeoutMs
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: time.Duration(cfg.DialTimeoutMs) * time.Millisecond,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, err
	}
	s, err := newEtcdSource(ctx, cli, fsName, cfg.RequestTimeoutMs)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return s, nil
}

func newEtcdSource(ctx context.Context, cli etcdClient, fsName string, timeoutMs int) (*EtcdSource, error) {
	if timeoutMs <= 0 {
		timeoutMs = defaultRequestTimeoutMs
	}
	s := &EtcdSource{
		client:  cli,
		key:     BalancerKey(fsName),
		timeout: time.Duration(timeoutMs) * time.Millisecond,
		done:    make(chan struct{}),
	}
	rev, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	wctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.watch(wctx, rev)
	return s, nil
}

// load reads the key and returns the store revision the read was served at.
func (s *EtcdSource) load(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return 0, err
	}
	cfg := proto.PolicyConfig{}
	if len(resp.Kvs) > 0 {
		cfg.Name = string(resp.Kvs[0].Value)
		cfg.Epoch = uint64(resp.Kvs[0].ModRevision)
	}
	s.update(cfg)
	if resp.Header == nil {
		return 0, nil
	}
	return resp.Header.Revision, nil
}

func (s *EtcdSource) update(cfg proto.PolicyConfig) {
	s.lock.Lock()
	s.cfg = cfg
	s.lock.Unlock()
}

func (s *EtcdSource) watch(ctx context.Context, rev int64) {
	span, ctx := trace.StartSpanFromContext(ctx, "fsmap-watch")
	defer close(s.done)

	for {
		wch := s.client.Watch(ctx, s.key, clientv3.WithRev(rev+1))
		for resp := range wch {
			if err := resp.Err(); err != nil {
				span.Warnf("watch %s failed: %s", s.key, err)
				break
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case mvccpb.PUT:
					s.update(proto.PolicyConfig{Name: string(ev.Kv.Value), Epoch: uint64(ev.Kv.ModRevision)})
					span.Infof("balancer of %s set to %q, epoch %d", s.key, ev.Kv.Value, ev.Kv.ModRevision)
				case mvccpb.DELETE:
					s.update(proto.PolicyConfig{})
					span.Infof("balancer of %s removed", s.key)
				}
				rev = ev.Kv.ModRevision
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(rewatchInterval):
		}
		// the watch broke, resync before watching again
		if r, err := s.load(ctx); err != nil {
			span.Warnf("reload %s failed: %s", s.key, err)
		} else {
			rev = r
		}
	}
}

func (s *EtcdSource) Current(ctx context.Context) (proto.PolicyConfig, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.cfg, nil
}

func (s *EtcdSource) SetBalancer(ctx context.Context, name proto.PolicyName) (proto.PolicyConfig, error) {
	if err := checkName(name); err != nil {
		return proto.PolicyConfig{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.client.Put(ctx, s.key, name)
	if err != nil {
		return proto.PolicyConfig{}, err
	}
	// a put's mod revision is the revision of its response header
	cfg := proto.PolicyConfig{Name: name, Epoch: uint64(resp.Header.Revision)}
	s.lock.Lock()
	if cfg.Epoch > s.cfg.Epoch {
		s.cfg = cfg
	}
	s.lock.Unlock()
	return cfg, nil
}

func (s *EtcdSource) Close() {
	s.cancel()
	<-s.done
	s.client.Close()
}
