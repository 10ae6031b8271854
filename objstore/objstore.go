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

package objstore

import (
	"context"
	"errors"

	"github.com/cubefs/mantle/common/kvstore"
	apierrors "github.com/cubefs/mantle/errors"
)

const (
	TypeMemory  = "memory"
	TypeRocksdb = "rocksdb"
	TypeMinio   = "minio"
	TypeS3      = "s3"

	policyContentType = "text/x-lua"
)

var ErrNoSuchKey = errors.New("no such key")

// Store is the shared object store policies are published to. Engines only
// read from it; Put and Delete exist for operators and tests.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type Config struct {
	Type  string      `json:"type"`
	Minio MinioConfig `json:"minio"`
	S3    S3Config    `json:"s3"`

	KVStore kvstore.Store `json:"-"`
}

func New(ctx context.Context, cfg *Config) (Store, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeRocksdb:
		return NewKVPool(cfg.KVStore)
	case TypeMinio:
		return newMinioStore(ctx, &cfg.Minio)
	case TypeS3:
		return newS3Store(ctx, &cfg.S3)
	default:
		return nil, apierrors.ErrUnknownBackend
	}
}
