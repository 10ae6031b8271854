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

package reporter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/mantle/clusterlog"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/metrics"
	"github.com/cubefs/mantle/proto"
)

// SuccessMessage and FailureMessage are grepped by operators and test
// harnesses, their shape must not change.
func SuccessMessage(name proto.PolicyName) string {
	return proto.BalancerKind + " balancer version changed: " + name
}

func FailureMessage(name proto.PolicyName, err error) string {
	return fmt.Sprintf("no load migrated; %s failed for balancer=%s : %s",
		proto.BalancerKind, name, apierrors.Describe(err))
}

// Reporter turns each cycle outcome into exactly one cluster log record.
type Reporter struct {
	log clusterlog.Log
	now func() time.Time
}

func New(log clusterlog.Log) *Reporter {
	return &Reporter{log: log, now: time.Now}
}

func (r *Reporter) Success(ctx context.Context, rank proto.Rank, cfg proto.PolicyConfig, exports int) proto.CycleRecord {
	rec := r.newRecord(ctx, rank, cfg)
	rec.Success = true
	rec.Exports = exports
	rec.Message = SuccessMessage(cfg.Name)
	r.append(ctx, rec)
	return rec
}

func (r *Reporter) Failure(ctx context.Context, rank proto.Rank, cfg proto.PolicyConfig, err error) proto.CycleRecord {
	rec := r.newRecord(ctx, rank, cfg)
	rec.Errno = apierrors.Errno(err)
	rec.Message = FailureMessage(cfg.Name, err)
	metrics.CycleFailures.WithLabelValues(strconv.Itoa(rec.Errno)).Inc()
	r.append(ctx, rec)
	return rec
}

func (r *Reporter) newRecord(ctx context.Context, rank proto.Rank, cfg proto.PolicyConfig) proto.CycleRecord {
	return proto.CycleRecord{
		Rank:    rank,
		Policy:  cfg.Name,
		Epoch:   cfg.Epoch,
		TraceID: trace.SpanFromContextSafe(ctx).TraceID(),
		Stamp:   r.now(),
	}
}

// append never drops a record silently, a refused record is still logged
// with its full message.
func (r *Reporter) append(ctx context.Context, rec proto.CycleRecord) {
	span := trace.SpanFromContextSafe(ctx)
	if err := r.log.Append(ctx, rec); err != nil {
		metrics.ReportFailures.Inc()
		span.Errorf("append cluster log failed: %s, record: rank=%d %s", err, rec.Rank, rec.Message)
		return
	}
	if rec.Success {
		span.Infof("rank %d: %s", rec.Rank, rec.Message)
		return
	}
	span.Warnf("rank %d: %s", rec.Rank, rec.Message)
}
