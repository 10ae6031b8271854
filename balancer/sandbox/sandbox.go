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
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	lua "github.com/yuin/gopher-lua"

	apierrors "github.com/cubefs/mantle/errors"
	"github.com/cubefs/mantle/proto"
)

const (
	defaultExecTimeoutMs   = 1000
	defaultCallStackSize   = 128
	defaultRegistryMaxSize = 64 * 1024

	opExecute = "execute"
)

type Config struct {
	ExecTimeoutMs   int `json:"exec_timeout_ms"`
	CallStackSize   int `json:"call_stack_size"`
	RegistryMaxSize int `json:"registry_max_size"`
	// MaxStringSize caps every string a script builds, in bytes.
	MaxStringSize int `json:"max_string_size"`
}

// Env is everything a policy script can observe.
type Env struct {
	Metrics proto.MetricsSnapshot
	Whoami  proto.Rank
	// Log receives BAL_LOG output. The cycle span is used when nil.
	Log func(level int, msg string)
}

// Sandbox runs untrusted policy scripts. Every execution gets a fresh
// interpreter with only the metrics capability and the log primitive
// installed, so nothing leaks between cycles or ranks.
type Sandbox struct {
	timeout         time.Duration
	callStackSize   int
	registryMaxSize int
	limits          limits

	// installs extra globals, tests only
	extraEnv func(L *lua.LState)
}

func New(cfg *Config) *Sandbox {
	if cfg.ExecTimeoutMs <= 0 {
		cfg.ExecTimeoutMs = defaultExecTimeoutMs
	}
	if cfg.CallStackSize <= 0 {
		cfg.CallStackSize = defaultCallStackSize
	}
	if cfg.RegistryMaxSize <= 0 {
		cfg.RegistryMaxSize = defaultRegistryMaxSize
	}
	if cfg.MaxStringSize <= 0 {
		cfg.MaxStringSize = defaultMaxStringSize
	}
	return &Sandbox{
		timeout:         time.Duration(cfg.ExecTimeoutMs) * time.Millisecond,
		callStackSize:   cfg.CallStackSize,
		registryMaxSize: cfg.RegistryMaxSize,
		limits:          limits{maxString: cfg.MaxStringSize},
	}
}

type result struct {
	value Value
	err   error
}

// Execute runs script against env and returns its first result. Syntax
// errors, runtime faults and panics fail with InvalidArgument; exhausting
// the wall-clock budget fails with Timeout, even when the script is stuck
// inside a builtin. Such a script is abandoned and its log output dropped.
func (s *Sandbox) Execute(ctx context.Context, script []byte, env Env) (Value, error) {
	span := trace.SpanFromContextSafe(ctx)
	logf := env.Log
	if logf == nil {
		logf = func(level int, msg string) {
			if level <= 0 {
				span.Infof("mantle: %s", msg)
				return
			}
			span.Debugf("mantle[%d]: %s", level, msg)
		}
	}
	var (
		logLock   sync.Mutex
		abandoned bool
	)
	env.Log = func(level int, msg string) {
		logLock.Lock()
		defer logLock.Unlock()
		if !abandoned {
			logf(level, msg)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan result, 1)
	start := time.Now()
	go func() {
		v, err := s.run(ctx, string(script), env)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			span.Debugf("policy script finished, cost[%s]", time.Since(start))
		}
		return r.value, r.err
	case <-ctx.Done():
		logLock.Lock()
		abandoned = true
		logLock.Unlock()
		span.Warnf("policy script abandoned after %s budget", s.timeout)
		return Value{}, apierrors.Newf(apierrors.KindTimeout, opExecute,
			"script exceeded %s budget", s.timeout)
	}
}

// run executes script on a fresh interpreter owned by the calling
// goroutine.
func (s *Sandbox) run(ctx context.Context, script string, env Env) (ret Value, err error) {
	span := trace.SpanFromContextSafe(ctx)
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   s.callStackSize,
		RegistryMaxSize: s.registryMaxSize,
	})
	defer L.Close()

	defer func() {
		if r := recover(); r != nil {
			span.Errorf("policy script panic: %v\n%s", r, debug.Stack())
			ret = Value{}
			err = apierrors.Newf(apierrors.KindInvalidArgument, opExecute, "panic: %v", r)
		}
	}()

	if err = openLibs(L); err != nil {
		return Value{}, apierrors.Wrap(apierrors.KindInvalidArgument, opExecute, err)
	}
	s.limits.restrictLibs(L)
	installEnv(L, env)
	if s.extraEnv != nil {
		s.extraEnv(L)
	}

	fn, err := compile(L, script)
	if err != nil {
		return Value{}, apierrors.Wrap(apierrors.KindInvalidArgument, opExecute, err)
	}

	L.SetContext(ctx)
	err = L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, L.NewFunction(s.limits.concat))
	if err != nil {
		if ctx.Err() != nil {
			return Value{}, apierrors.Newf(apierrors.KindTimeout, opExecute,
				"script exceeded %s budget", s.timeout)
		}
		return Value{}, apierrors.Wrap(apierrors.KindInvalidArgument, opExecute, err)
	}

	lv := L.Get(-1)
	L.Pop(1)
	ret, err = convert(lv)
	if err != nil {
		return Value{}, apierrors.Wrap(apierrors.KindInvalidArgument, opExecute, err)
	}
	return ret, nil
}

// openLibs opens the base, table, string and math libraries and removes the
// base functions that reach outside the interpreter.
func openLibs(L *lua.LState) error {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open lua library %q: %w", lib.name, err)
		}
	}
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring", "require", "module",
		"collectgarbage", "getfenv", "setfenv", "newproxy", "_printregs",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	return nil
}
