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

package server

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mantle/balancer"
	"github.com/cubefs/mantle/balancer/policystore"
	"github.com/cubefs/mantle/clusterlog"
	"github.com/cubefs/mantle/fsmap"
	"github.com/cubefs/mantle/mds"
	"github.com/cubefs/mantle/objstore"
	"github.com/cubefs/mantle/proto"
	"github.com/cubefs/mantle/server/store"
)

const (
	defaultRanks       = 1
	defaultRecordLimit = 100
	maxListNum         = 1000
)

type Config struct {
	StoreConfig store.Config       `json:"store_config"`
	ObjectStore objstore.Config    `json:"object_store"`
	PolicyStore policystore.Config `json:"policy_store"`
	Balancer    balancer.Config    `json:"balancer"`
	FsMap       fsmap.Config       `json:"fs_map"`
	ClusterLog  clusterlog.Config  `json:"cluster_log"`
	MDS         mds.Config         `json:"mds"`
}

// Server wires one balancer engine to its collaborators: the policy object
// store, the filesystem map, the cluster log and the metadata servers.
type Server struct {
	store       *store.Store
	objStore    objstore.Store
	policyStore *policystore.PolicyStore
	fsMap       fsmap.FSMap
	cluster     *mds.Table
	clusterLog  clusterlog.Log
	memLog      *clusterlog.MemoryLog
	balancer    *balancer.Balancer
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	span := trace.SpanFromContextSafe(ctx)
	s := &Server{}
	if err := s.init(ctx, cfg); err != nil {
		s.close()
		return nil, err
	}
	span.Infof("server created, object store[%s] fs map[%s] ranks[%d]",
		typeOrMemory(cfg.ObjectStore.Type), typeOrMemory(cfg.FsMap.Type), cfg.MDS.Ranks)
	return s, nil
}

func (s *Server) init(ctx context.Context, cfg *Config) (err error) {
	span := trace.SpanFromContextSafe(ctx)

	if needKVStore(cfg) {
		if s.store, err = store.NewStore(ctx, &cfg.StoreConfig); err != nil {
			return err
		}
		kvStore := s.store.KVStore()
		cfg.ObjectStore.KVStore = kvStore
		cfg.FsMap.KVStore = kvStore
		cfg.ClusterLog.KVStore = kvStore
		span.Infof("kv store opened at %s", cfg.StoreConfig.Path)
	}

	if s.objStore, err = objstore.New(ctx, &cfg.ObjectStore); err != nil {
		return err
	}
	fsMap, err := fsmap.New(ctx, &cfg.FsMap)
	if err != nil {
		return err
	}
	s.fsMap = fsMap
	if s.clusterLog, s.memLog, err = clusterlog.New(ctx, &cfg.ClusterLog); err != nil {
		return err
	}
	if cfg.MDS.Ranks <= 0 {
		cfg.MDS.Ranks = defaultRanks
	}
	s.cluster = mds.NewTable(cfg.MDS.Ranks)
	s.policyStore = policystore.NewPolicyStore(s.objStore, &cfg.PolicyStore)

	cfg.Balancer.FsMap = s.fsMap
	cfg.Balancer.Cluster = s.cluster
	cfg.Balancer.Store = s.policyStore
	cfg.Balancer.Log = s.clusterLog
	s.balancer = balancer.NewBalancer(&cfg.Balancer)
	return nil
}

// Start begins the periodic balancer cycles.
func (s *Server) Start() {
	s.balancer.Start()
}

// TickAll runs one cycle on every active rank and waits for the records.
func (s *Server) TickAll(ctx context.Context) ([]proto.CycleRecord, error) {
	return s.balancer.TickAll(ctx)
}

func (s *Server) Close() {
	s.close()
}

func (s *Server) close() {
	if s.balancer != nil {
		s.balancer.Close()
	}
	if closer, ok := s.clusterLog.(interface{ Close() }); ok {
		closer.Close()
	}
	if s.fsMap != nil {
		s.fsMap.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

func needKVStore(cfg *Config) bool {
	if cfg.ObjectStore.Type == objstore.TypeRocksdb || cfg.FsMap.Type == fsmap.TypeKVStore {
		return true
	}
	for _, sink := range cfg.ClusterLog.Sinks {
		if sink == clusterlog.SinkKVStore {
			return true
		}
	}
	return false
}

func typeOrMemory(typ string) string {
	if typ == "" {
		return objstore.TypeMemory
	}
	return typ
}
