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

package validator

import (
	"math"

	"github.com/cubefs/mantle/balancer/sandbox"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

const opValidate = "validate"

// Validate turns a script result into a decision for n active ranks. The
// result must be a sequence of exactly n non-negative integral numbers; the
// first rule that fails decides the error, always InvalidArgument.
func Validate(v sandbox.Value, n int) (proto.MigrationDecision, error) {
	if v.Kind != sandbox.KindSequence {
		return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
			"result is a %s, not a sequence", v.Kind)
	}

	decision := make(proto.MigrationDecision, 0, len(v.Seq))
	for i, item := range v.Seq {
		f, ok := item.Number()
		if !ok {
			return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
				"element %d is not a number: %s", i, item)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) ||
			f >= math.MaxInt64 || f < math.MinInt64 {
			return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
				"element %d is not an integer: %v", i, f)
		}
		if f < 0 {
			return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
				"element %d is negative: %v", i, f)
		}
		decision = append(decision, int64(f))
	}

	if len(decision) == 0 && n > 0 {
		return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
			"empty result for %d active ranks", n)
	}
	if len(decision) != n {
		return nil, apierrors.Newf(apierrors.KindInvalidArgument, opValidate,
			"result has %d targets for %d active ranks", len(decision), n)
	}
	return decision, nil
}
