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

package proto

import "strings"

const (
	// BalancerKind prefixes every cluster log record of the engine.
	BalancerKind = "mantle"

	ReqIdKey = "req-id"
)

type (
	Rank       = int32
	PolicyName = string
	Epoch      = uint64
)

// PolicyConfig is the process-wide balancer configuration of one filesystem.
// Epoch is bumped on every "fs set balancer"; zero means never set.
type PolicyConfig struct {
	Name  PolicyName `json:"name"`
	Epoch Epoch      `json:"epoch"`
}

func (c PolicyConfig) IsSet() bool {
	return c.Epoch > 0
}

// IsBlank reports a set but empty (or whitespace only) policy name.
func (c PolicyConfig) IsBlank() bool {
	return strings.TrimSpace(c.Name) == ""
}
