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

import (
	"encoding/json"
	"fmt"
	"time"
)

type Stage uint8

const (
	StageIdle Stage = iota
	StageFetching
	StageExecuting
	StageValidating
	StageApplying
	StageFailed
)

var stageNames = [...]string{"Idle", "Fetching", "Executing", "Validating", "Applying", "Failed"}

func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "Unknown"
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stageNames {
		if n == name {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", name)
}

// CycleRecord is the single outcome of one balancer cycle on one rank.
// Records are append only.
type CycleRecord struct {
	Rank    Rank       `json:"rank"`
	Policy  PolicyName `json:"policy"`
	Epoch   Epoch      `json:"epoch"`
	Success bool       `json:"success"`
	Errno   int        `json:"errno,omitempty"`
	Message string     `json:"message"`
	Exports int        `json:"exports"`
	TraceID string     `json:"trace_id,omitempty"`
	Stamp   time.Time  `json:"stamp"`
}

func (r *CycleRecord) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func (r *CycleRecord) Unmarshal(data []byte) error {
	return json.Unmarshal(data, r)
}

// RankStatus is the externally visible state of one rank's balancer.
type RankStatus struct {
	Rank  Rank         `json:"rank"`
	Stage Stage        `json:"stage"`
	Last  *CycleRecord `json:"last,omitempty"`
}
