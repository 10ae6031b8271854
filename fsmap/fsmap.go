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
	"fmt"

	"github.com/cubefs/mantle/common/kvstore"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

const (
	TypeMemory  = "memory"
	TypeKVStore = "kvstore"
	TypeEtcd    = "etcd"

	defaultFsName = "cephfs"
)

// Source exposes the balancer configured for one filesystem. Engines read
// it once at the start of every cycle.
type Source interface {
	Current(ctx context.Context) (proto.PolicyConfig, error)
}

// FSMap is a Source that operators can update, the equivalent of
// "fs set <fs> balancer <name>".
type FSMap interface {
	Source
	SetBalancer(ctx context.Context, name proto.PolicyName) (proto.PolicyConfig, error)
	Close()
}

type Config struct {
	Type   string     `json:"type"`
	FsName string     `json:"fs_name"`
	Etcd   EtcdConfig `json:"etcd"`

	KVStore kvstore.Store `json:"-"`
}

func New(ctx context.Context, cfg *Config) (FSMap, error) {
	if cfg.FsName == "" {
		cfg.FsName = defaultFsName
	}
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemory(), nil
	case TypeKVStore:
		return NewKVSource(ctx, cfg.KVStore, cfg.FsName)
	case TypeEtcd:
		return NewEtcdSource(ctx, &cfg.Etcd, cfg.FsName)
	default:
		return nil, fmt.Errorf("%w: fsmap type %q", apierrors.ErrUnknownBackend, cfg.Type)
	}
}

func checkName(name proto.PolicyName) error {
	// a blank but present name is accepted and fails later at fetch time
	if name == "" {
		return apierrors.New(apierrors.KindInvalidArgument, "set balancer", "missing balancer name")
	}
	return nil
}
