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

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescribe(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{New(KindInvalidArgument, "validate", "not a sequence"), "(22) Invalid argument"},
		{New(KindNotFound, "fetch", "ghost.lua"), "(2) No such file or directory"},
		{New(KindTimeout, "fetch", "deadline"), "(110) Connection timed out"},
		{New(KindUnreachable, "fetch", "refused"), "(113) No route to host"},
		{errors.New("plain"), "(5) Input/output error"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Describe(c.err))
	}
}

func TestIsByKind(t *testing.T) {
	err := Newf(KindInvalidArgument, "execute", "metric index %d out of range", 7)
	wrapped := fmt.Errorf("cycle: %w", err)

	require.True(t, errors.Is(wrapped, ErrInvalidArgument))
	require.False(t, errors.Is(wrapped, ErrTimeout))
	require.Equal(t, KindInvalidArgument, KindOf(wrapped))
	require.Equal(t, EINVAL, Errno(wrapped))

	cause := errors.New("dial tcp: connection refused")
	err = Wrap(KindUnreachable, "fetch", cause)
	require.True(t, errors.Is(err, cause))
	require.True(t, errors.Is(err, ErrUnreachable))
	require.Contains(t, err.Error(), "connection refused")
}

func TestKindString(t *testing.T) {
	require.Equal(t, "NotFound", KindNotFound.String())
	require.Equal(t, "Kind(42)", Kind(42).String())
	require.Equal(t, "Input/output error", ErrnoText(1234))
}
