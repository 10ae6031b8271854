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
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/cubefs/mantle/proto"
)

// metric names readable from mds[i]
const (
	MetricRank         = "rank"
	MetricLoad         = "load"
	MetricAllMetaLoad  = "all.meta_load"
	MetricAuthMetaLoad = "auth.meta_load"
	MetricReqRate      = "req_rate"
	MetricQueueLen     = "queue_len"
	MetricCPULoadAvg   = "cpu_load_avg"

	printLogLevel = 5
)

func metricValue(m proto.RankMetrics, name string) (lua.LValue, bool) {
	switch name {
	case MetricRank:
		return lua.LNumber(m.Rank), true
	case MetricLoad, MetricAllMetaLoad:
		return lua.LNumber(m.Load), true
	case MetricAuthMetaLoad:
		return lua.LNumber(m.AuthLoad), true
	case MetricReqRate:
		return lua.LNumber(m.ReqRate), true
	case MetricQueueLen:
		return lua.LNumber(m.QueueLen), true
	case MetricCPULoadAvg:
		return lua.LNumber(m.CPULoadAvg), true
	default:
		return lua.LNil, false
	}
}

// installEnv publishes the globals a policy can use: the read-only mds
// array, whoami, BAL_LOG and a print that logs instead of writing stdout.
func installEnv(L *lua.LState, env Env) {
	n := env.Metrics.Len()
	ranks := make([]*lua.LUserData, n)
	for i := 0; i < n; i++ {
		m, _ := env.Metrics.At(i)
		ranks[i] = newRankProxy(L, m)
	}

	mds := L.NewUserData()
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		idx, ok := toIndex(L.Get(2))
		if !ok || idx < 0 || idx >= n {
			L.RaiseError("mds index %s out of range [0, %d)", L.Get(2).String(), n)
			return 0
		}
		L.Push(ranks[idx])
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(readOnly("mds")))
	L.SetField(mt, "__len", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(n))
		return 1
	}))
	L.SetField(mt, "__metatable", lua.LFalse)
	L.SetMetatable(mds, mt)

	L.SetGlobal("mds", mds)
	L.SetGlobal("whoami", lua.LNumber(env.Whoami))
	L.SetGlobal("BAL_LOG", L.NewFunction(balLog(env.Log)))
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.Get(i).String())
		}
		env.Log(printLogLevel, strings.Join(parts, "\t"))
		return 0
	}))
}

func newRankProxy(L *lua.LState, m proto.RankMetrics) *lua.LUserData {
	ud := L.NewUserData()
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key, ok := L.Get(2).(lua.LString)
		if !ok {
			L.RaiseError("metric name must be a string, got %s", L.Get(2).Type())
			return 0
		}
		v, ok := metricValue(m, string(key))
		if !ok {
			L.RaiseError("unknown metric %q", string(key))
			return 0
		}
		L.Push(v)
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(readOnly("rank metrics")))
	L.SetField(mt, "__metatable", lua.LFalse)
	L.SetMetatable(ud, mt)
	return ud
}

func readOnly(what string) lua.LGFunction {
	return func(L *lua.LState) int {
		L.RaiseError("%s is read-only", what)
		return 0
	}
}

// balLog implements BAL_LOG(level, v1, ...). The level must be an integer
// and at least one printable value must follow it.
func balLog(sink func(level int, msg string)) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		if top < 2 {
			L.RaiseError("BAL_LOG expects a level and at least one value, got %d argument(s)", top)
			return 0
		}
		level, ok := toIndex(L.Get(1))
		if !ok {
			L.RaiseError("BAL_LOG level must be an integer, got %s", L.Get(1).Type())
			return 0
		}
		parts := make([]string, 0, top-1)
		for i := 2; i <= top; i++ {
			switch v := L.Get(i).(type) {
			case lua.LString, lua.LNumber, lua.LBool:
				parts = append(parts, v.String())
			default:
				L.RaiseError("BAL_LOG argument %d is not printable (%s)", i, v.Type())
				return 0
			}
		}
		sink(level, strings.Join(parts, " "))
		return 0
	}
}

func toIndex(v lua.LValue) (int, bool) {
	num, ok := v.(lua.LNumber)
	if !ok {
		return 0, false
	}
	f := float64(num)
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}
