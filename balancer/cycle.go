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

package balancer

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"golang.org/x/sync/errgroup"

	"github.com/cubefs/mantle/balancer/sandbox"
	"github.com/cubefs/mantle/balancer/validator"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/metrics"
	"github.com/cubefs/mantle/proto"
)

// RunCycle runs one fetch, execute, validate, apply cycle for rank and
// reports its outcome. It returns ErrBalancerNotSet when no balancer was
// ever configured and ErrCycleInFlight when rank is still busy; neither
// counts as a cycle and neither is reported.
func (b *Balancer) RunCycle(ctx context.Context, rank proto.Rank) (proto.CycleRecord, error) {
	st := b.rankState(rank)
	if !st.running.CompareAndSwap(false, true) {
		return proto.CycleRecord{}, apierrors.ErrCycleInFlight
	}
	defer st.running.Store(false)

	// read once, a change applies from the next cycle on
	cfg, err := b.fsMap.Current(ctx)
	if err != nil {
		return proto.CycleRecord{}, err
	}
	if !cfg.IsSet() {
		return proto.CycleRecord{}, apierrors.ErrBalancerNotSet
	}

	span, ctx := newCycleContext(ctx)
	span.Debugf("rank %d start cycle, balancer %q epoch %d", rank, cfg.Name, cfg.Epoch)
	rec := b.cycle(ctx, st, rank, cfg)

	st.lock.Lock()
	st.last = &rec
	st.lock.Unlock()
	st.setStage(proto.StageIdle)

	result := "success"
	if !rec.Success {
		result = "failure"
	}
	metrics.CycleTotal.WithLabelValues(strconv.Itoa(int(rank)), result).Inc()
	return rec, nil
}

func (b *Balancer) cycle(ctx context.Context, st *rankState, rank proto.Rank, cfg proto.PolicyConfig) proto.CycleRecord {
	span := trace.SpanFromContextSafe(ctx)
	stage := proto.StageIdle
	start := time.Now()
	enter := func(next proto.Stage) {
		if stage != proto.StageIdle {
			metrics.StageDuration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
		}
		stage, start = next, time.Now()
		st.setStage(next)
	}
	fail := func(err error) proto.CycleRecord {
		span.Warnf("rank %d %s failed: %s", rank, stage, err)
		enter(proto.StageFailed)
		// nothing from a failed cycle is reused by the next one
		b.store.Invalidate(cfg)
		return b.reporter.Failure(ctx, rank, cfg, err)
	}

	enter(proto.StageFetching)
	script, err := b.store.Fetch(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	enter(proto.StageExecuting)
	snap, err := b.cluster.Snapshot(ctx)
	if err != nil {
		return fail(collaboratorError("snapshot", err))
	}
	if snap.Len() == 0 {
		return fail(apierrors.Wrap(apierrors.KindInvalidArgument, "snapshot", apierrors.ErrNoActiveRank))
	}
	result, err := b.sandbox.Execute(ctx, script, sandbox.Env{Metrics: snap, Whoami: rank})
	if err != nil {
		return fail(err)
	}

	enter(proto.StageValidating)
	decision, err := validator.Validate(result, snap.Len())
	if err != nil {
		span.Debugf("rank %d rejected result %s", rank, result)
		return fail(err)
	}

	enter(proto.StageApplying)
	current, err := b.cluster.Assignment(ctx)
	if err != nil {
		return fail(collaboratorError("assignment", err))
	}
	plan := b.applier.Apply(snap.Ranks(), decision, current)
	ins := plan.From(rank)
	if len(ins) > 0 {
		if err = b.cluster.Export(ctx, rank, ins); err != nil {
			return fail(collaboratorError("export", err))
		}
		metrics.ExportInstructions.Add(float64(len(ins)))
		span.Infof("rank %d exported %d instructions, moved load %.2f of %.2f planned",
			rank, len(ins), sumLoad(ins), plan.Moved)
	}
	enter(proto.StageIdle)
	return b.reporter.Success(ctx, rank, cfg, len(ins))
}

// TickAll runs one cycle on every active rank at once and returns the
// records in rank order. Ranks still busy from an earlier cycle are skipped.
// A rank that could not start a cycle does not hide the records of the
// others: they are returned along with the first such error.
func (b *Balancer) TickAll(ctx context.Context) ([]proto.CycleRecord, error) {
	ranks, err := b.cluster.ActiveRanks(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]*proto.CycleRecord, len(ranks))
	var g errgroup.Group
	for i, rank := range ranks {
		i, rank := i, rank
		g.Go(func() error {
			rec, err := b.RunCycle(ctx, rank)
			if err == apierrors.ErrCycleInFlight {
				return nil
			}
			if err != nil {
				return err
			}
			recs[i] = &rec
			return nil
		})
	}
	err = g.Wait()

	ret := make([]proto.CycleRecord, 0, len(recs))
	for _, rec := range recs {
		if rec != nil {
			ret = append(ret, *rec)
		}
	}
	return ret, err
}

// collaboratorError keeps the kind of an already classified error and
// treats anything else from the metadata servers as unreachable.
func collaboratorError(op string, err error) error {
	if apierrors.KindOf(err) != apierrors.KindUnknown {
		return err
	}
	return apierrors.Wrap(apierrors.KindUnreachable, op, err)
}

func sumLoad(ins []proto.ExportInstruction) float64 {
	var sum float64
	for _, in := range ins {
		sum += in.Load
	}
	return sum
}

func sortRanks(ranks []proto.Rank) {
	sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
}
