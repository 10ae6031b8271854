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
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cubefs/mantle/util"
)

type MinioConfig struct {
	Address         string `json:"address"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	UseIAM          bool   `json:"use_iam"`
	Bucket          string `json:"bucket"`
	RootPath        string `json:"root_path"`
	CreateBucket    bool   `json:"create_bucket"`
}

type minioStore struct {
	client     *minio.Client
	bucketName string
	rootPath   string
}

func newMinioStore(ctx context.Context, cfg *MinioConfig) (Store, error) {
	var creds *credentials.Credentials
	if cfg.UseIAM {
		creds = credentials.NewIAM("")
	} else {
		creds = credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	client, err := minio.New(cfg.Address, &minio.Options{
		BucketLookup: minio.BucketLookupAuto,
		Creds:        creds,
		Secure:       cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Info(err, "new minio client failed", cfg.Address)
	}

	if cfg.CreateBucket {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, errors.Info(err, "check bucket failed", cfg.Bucket)
		}
		if !exists {
			if err = client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, errors.Info(err, "make bucket failed", cfg.Bucket)
			}
		}
	}

	return &minioStore{
		client:     client,
		bucketName: cfg.Bucket,
		rootPath:   cfg.RootPath,
	}, nil
}

func (m *minioStore) Get(ctx context.Context, key string) ([]byte, error) {
	span := trace.SpanFromContextSafe(ctx)

	object, err := m.client.GetObject(ctx, m.bucketName, m.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, m.convertErr(err)
	}
	defer object.Close()

	// GetObject is lazy, the request is only sent on the first read
	tr := &util.TimeReader{R: object}
	data, err := io.ReadAll(tr)
	if err != nil {
		return nil, m.convertErr(err)
	}
	span.Debugf("read object[%s] size[%d] cost[%s]", key, len(data), tr.GetCost())
	return data, nil
}

func (m *minioStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucketName, m.objectKey(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: policyContentType})
	return err
}

func (m *minioStore) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucketName, m.objectKey(key), minio.RemoveObjectOptions{})
}

func (m *minioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for object := range m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    m.objectKey(prefix),
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, m.convertErr(object.Err)
		}
		keys = append(keys, strings.TrimPrefix(strings.TrimPrefix(object.Key, m.rootPath), "/"))
	}
	return keys, nil
}

func (m *minioStore) objectKey(key string) string {
	if m.rootPath == "" {
		return key
	}
	return path.Join(m.rootPath, key)
}

func (m *minioStore) convertErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNoSuchKey
	}
	return err
}
