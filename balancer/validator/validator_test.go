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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/mantle/balancer/sandbox"
	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

func TestValidate(t *testing.T) {
	d, err := Validate(sandbox.Sequence(sandbox.Number(3), sandbox.Number(4)), 2)
	require.NoError(t, err)
	require.Equal(t, proto.MigrationDecision{3, 4}, d)

	d, err = Validate(sandbox.Sequence(sandbox.Number(0), sandbox.Number(0), sandbox.Number(7)), 3)
	require.NoError(t, err)
	require.Equal(t, proto.MigrationDecision{0, 0, 7}, d)

	d, err = Validate(sandbox.Sequence(), 0)
	require.NoError(t, err)
	require.Len(t, d, 0)
}

func TestValidateRejects(t *testing.T) {
	n := 2
	cases := []struct {
		name string
		v    sandbox.Value
	}{
		{"nil", sandbox.Value{}},
		{"string", sandbox.String("hello")},
		{"number", sandbox.Number(3)},
		{"empty", sandbox.Sequence()},
		{"strings", sandbox.Sequence(sandbox.String("this"), sandbox.String("is"), sandbox.String("a"), sandbox.String("test"))},
		{"mixed", sandbox.Sequence(sandbox.Number(3), sandbox.String("test"))},
		{"too few", sandbox.Sequence(sandbox.Number(3))},
		{"too many", sandbox.Sequence(sandbox.Number(3), sandbox.Number(4), sandbox.Number(5),
			sandbox.Number(6), sandbox.Number(7), sandbox.Number(8), sandbox.Number(9))},
		{"negative", sandbox.Sequence(sandbox.Number(-1), sandbox.Number(4))},
		{"fraction", sandbox.Sequence(sandbox.Number(1.5), sandbox.Number(4))},
		{"nan", sandbox.Sequence(sandbox.Number(math.NaN()), sandbox.Number(4))},
		{"inf", sandbox.Sequence(sandbox.Number(math.Inf(1)), sandbox.Number(4))},
		{"nested", sandbox.Sequence(sandbox.Sequence(sandbox.Number(1)), sandbox.Number(4))},
		{"mapping", sandbox.Value{Kind: sandbox.KindMapping, Mapping: map[string]sandbox.Value{
			"1": sandbox.Number(1), "3": sandbox.Number(3),
		}}},
	}
	for _, c := range cases {
		d, err := Validate(c.v, n)
		require.ErrorIs(t, err, apierrors.ErrInvalidArgument, c.name)
		require.Equal(t, "(22) Invalid argument", apierrors.Describe(err), c.name)
		require.Nil(t, d, c.name)
	}
}

// For every length other than n the result is rejected, whatever the values.
func TestValidateLengthMismatch(t *testing.T) {
	for n := 1; n <= 4; n++ {
		for l := 0; l <= 6; l++ {
			items := make([]sandbox.Value, l)
			for i := range items {
				items[i] = sandbox.Number(float64(i))
			}
			_, err := Validate(sandbox.Sequence(items...), n)
			if l == n {
				require.NoError(t, err)
				continue
			}
			require.ErrorIs(t, err, apierrors.ErrInvalidArgument)
		}
	}
}
