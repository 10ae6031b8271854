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

package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

const maxValueDepth = 16

// Kind tags the shape of a script result.
type Kind uint8

const (
	KindNil Kind = iota
	KindScalar
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a script result detached from the interpreter. Scalar is a
// float64, string or bool, or the type name of a value that has no Go form.
type Value struct {
	Kind    Kind
	Scalar  interface{}
	Seq     []Value
	Mapping map[string]Value
}

func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		return fmt.Sprintf("%v", v.Scalar)
	case KindSequence:
		return fmt.Sprintf("%v", v.Seq)
	case KindMapping:
		return fmt.Sprintf("%v", v.Mapping)
	default:
		return "nil"
	}
}

// Number returns the scalar as a float64 if it is numeric.
func (v Value) Number() (float64, bool) {
	if v.Kind != KindScalar {
		return 0, false
	}
	f, ok := v.Scalar.(float64)
	return f, ok
}

func Number(f float64) Value {
	return Value{Kind: KindScalar, Scalar: f}
}

func String(s string) Value {
	return Value{Kind: KindScalar, Scalar: s}
}

func Sequence(items ...Value) Value {
	return Value{Kind: KindSequence, Seq: items}
}

func convert(lv lua.LValue) (Value, error) {
	return convertValue(lv, 0, make(map[*lua.LTable]struct{}))
}

func convertValue(lv lua.LValue, depth int, visiting map[*lua.LTable]struct{}) (Value, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return Value{}, nil
	case lua.LNumber:
		return Value{Kind: KindScalar, Scalar: float64(v)}, nil
	case lua.LString:
		return Value{Kind: KindScalar, Scalar: string(v)}, nil
	case lua.LBool:
		return Value{Kind: KindScalar, Scalar: bool(v)}, nil
	case *lua.LTable:
		return convertTable(v, depth, visiting)
	default:
		return Value{Kind: KindScalar, Scalar: lv.Type().String()}, nil
	}
}

func convertTable(t *lua.LTable, depth int, visiting map[*lua.LTable]struct{}) (Value, error) {
	if depth >= maxValueDepth {
		return Value{}, fmt.Errorf("result nested deeper than %d", maxValueDepth)
	}
	if _, ok := visiting[t]; ok {
		return Value{}, fmt.Errorf("result contains a cycle")
	}
	visiting[t] = struct{}{}
	defer delete(visiting, t)

	var keys, vals []lua.LValue
	t.ForEach(func(k, v lua.LValue) {
		keys = append(keys, k)
		vals = append(vals, v)
	})

	if len(keys) == 0 {
		return Value{Kind: KindSequence}, nil
	}
	if base, ok := sequenceBase(keys); ok {
		seq := make([]Value, len(keys))
		for i := range keys {
			val, err := convertValue(vals[i], depth+1, visiting)
			if err != nil {
				return Value{}, err
			}
			seq[int(keys[i].(lua.LNumber))-base] = val
		}
		return Value{Kind: KindSequence, Seq: seq}, nil
	}

	m := make(map[string]Value, len(keys))
	for i := range keys {
		val, err := convertValue(vals[i], depth+1, visiting)
		if err != nil {
			return Value{}, err
		}
		m[keys[i].String()] = val
	}
	return Value{Kind: KindMapping, Mapping: m}, nil
}

// sequenceBase reports whether the keys are exactly 1..n or exactly 0..n-1
// and returns the first index.
func sequenceBase(keys []lua.LValue) (int, bool) {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		num, ok := k.(lua.LNumber)
		if !ok {
			return 0, false
		}
		f := float64(num)
		if f != math.Trunc(f) || f < 0 || f > float64(len(keys)) {
			return 0, false
		}
		idx = append(idx, int(f))
	}
	sort.Ints(idx)
	for i := 1; i < len(idx); i++ {
		if idx[i] != idx[i-1]+1 {
			return 0, false
		}
	}
	switch {
	case idx[0] == 1 && idx[len(idx)-1] == len(idx):
		return 1, true
	case idx[0] == 0 && idx[len(idx)-1] == len(idx)-1:
		return 0, true
	default:
		return 0, false
	}
}
