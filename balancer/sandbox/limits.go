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
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

const (
	defaultMaxStringSize = 1 << 20

	// widths and precisions above two digits are rejected, as in Lua 5.1
	maxFormatWidth = 99

	// concatGuard is the chunk local every ".." is rewritten to call
	concatGuard = "__mantle_concat"
)

// compile parses script and rewrites every string concatenation into a
// call of the size checked concat passed in as the chunk's vararg.
func compile(L *lua.LState, script string) (*lua.LFunction, error) {
	chunk, err := parse.Parse(strings.NewReader(script), "<string>")
	if err != nil {
		return nil, err
	}
	guardStmts(chunk)
	chunk = append([]ast.Stmt{&ast.LocalAssignStmt{
		Names: []string{concatGuard},
		Exprs: []ast.Expr{&ast.Comma3Expr{}},
	}}, chunk...)
	proto, err := lua.Compile(chunk, "<string>")
	if err != nil {
		return nil, err
	}
	return L.NewFunctionFromProto(proto), nil
}

func guardStmts(stmts []ast.Stmt) {
	for _, stmt := range stmts {
		guardStmt(stmt)
	}
}

func guardExprs(exprs []ast.Expr) {
	for i := range exprs {
		exprs[i] = guardExpr(exprs[i])
	}
}

func guardStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		guardExprs(s.Lhs)
		guardExprs(s.Rhs)
	case *ast.LocalAssignStmt:
		guardExprs(s.Exprs)
	case *ast.FuncCallStmt:
		s.Expr = guardExpr(s.Expr)
	case *ast.DoBlockStmt:
		guardStmts(s.Stmts)
	case *ast.WhileStmt:
		s.Condition = guardExpr(s.Condition)
		guardStmts(s.Stmts)
	case *ast.RepeatStmt:
		s.Condition = guardExpr(s.Condition)
		guardStmts(s.Stmts)
	case *ast.IfStmt:
		s.Condition = guardExpr(s.Condition)
		guardStmts(s.Then)
		guardStmts(s.Else)
	case *ast.NumberForStmt:
		s.Init = guardExpr(s.Init)
		s.Limit = guardExpr(s.Limit)
		if s.Step != nil {
			s.Step = guardExpr(s.Step)
		}
		guardStmts(s.Stmts)
	case *ast.GenericForStmt:
		guardExprs(s.Exprs)
		guardStmts(s.Stmts)
	case *ast.FuncDefStmt:
		guardStmts(s.Func.Stmts)
	case *ast.ReturnStmt:
		guardExprs(s.Exprs)
	}
}

func guardExpr(expr ast.Expr) ast.Expr {
	switch e := expr.(type) {
	case *ast.StringConcatOpExpr:
		fn := &ast.IdentExpr{Value: concatGuard}
		fn.SetLine(e.Line())
		fn.SetLastLine(e.LastLine())
		call := &ast.FuncCallExpr{
			Func:      fn,
			Args:      []ast.Expr{guardExpr(e.Lhs), guardExpr(e.Rhs)},
			AdjustRet: true,
		}
		call.SetLine(e.Line())
		call.SetLastLine(e.LastLine())
		return call
	case *ast.AttrGetExpr:
		e.Object = guardExpr(e.Object)
		e.Key = guardExpr(e.Key)
	case *ast.TableExpr:
		for _, field := range e.Fields {
			if field.Key != nil {
				field.Key = guardExpr(field.Key)
			}
			field.Value = guardExpr(field.Value)
		}
	case *ast.FuncCallExpr:
		if e.Func != nil {
			e.Func = guardExpr(e.Func)
		}
		if e.Receiver != nil {
			e.Receiver = guardExpr(e.Receiver)
		}
		guardExprs(e.Args)
	case *ast.LogicalOpExpr:
		e.Lhs = guardExpr(e.Lhs)
		e.Rhs = guardExpr(e.Rhs)
	case *ast.RelationalOpExpr:
		e.Lhs = guardExpr(e.Lhs)
		e.Rhs = guardExpr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		e.Lhs = guardExpr(e.Lhs)
		e.Rhs = guardExpr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		e.Expr = guardExpr(e.Expr)
	case *ast.UnaryNotOpExpr:
		e.Expr = guardExpr(e.Expr)
	case *ast.UnaryLenOpExpr:
		e.Expr = guardExpr(e.Expr)
	case *ast.FunctionExpr:
		guardStmts(e.Stmts)
	}
	return expr
}

// limits caps the size of every string a script can build.
type limits struct {
	maxString int
}

func (l limits) check(L *lua.LState, what string, size int) {
	if size < 0 || size > l.maxString {
		L.RaiseError("%s result exceeds %d bytes", what, l.maxString)
	}
}

// concat implements ".." with the size cap. Numbers convert to strings and
// other operands go through __concat like the builtin operator.
func (l limits) concat(L *lua.LState) int {
	lhs, rhs := L.Get(1), L.Get(2)
	if lua.LVCanConvToString(lhs) && lua.LVCanConvToString(rhs) {
		ls, rs := lua.LVAsString(lhs), lua.LVAsString(rhs)
		l.check(L, "concatenation", len(ls)+len(rs))
		L.Push(lua.LString(ls + rs))
		return 1
	}

	mm := L.GetMetaField(lhs, "__concat")
	if mm == lua.LNil {
		mm = L.GetMetaField(rhs, "__concat")
	}
	if mm == lua.LNil {
		bad := lhs
		if lua.LVCanConvToString(lhs) {
			bad = rhs
		}
		L.RaiseError("attempt to concatenate a %s value", bad.Type())
		return 0
	}
	L.Push(mm)
	L.Push(lhs)
	L.Push(rhs)
	L.Call(2, 1)
	return 1
}

// restrictLibs swaps the allocating string and table functions for capped
// ones and drops pattern matching, which can backtrack without bound.
func (l limits) restrictLibs(L *lua.LState) {
	str := L.GetGlobal(lua.StringLibName).(*lua.LTable)
	rep := str.RawGetString("rep")
	format := str.RawGetString("format")
	L.SetField(str, "rep", L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		n := L.CheckInt(2)
		if n > 0 && len(s) > 0 && n > l.maxString/len(s) {
			l.check(L, "string.rep", -1)
		}
		return l.delegate(L, rep)
	}))
	L.SetField(str, "format", L.NewFunction(func(L *lua.LState) int {
		checkFormat(L, L.CheckString(1))
		n := l.delegate(L, format)
		l.check(L, "string.format", len(lua.LVAsString(L.Get(-1))))
		return n
	}))
	L.SetField(str, "find", L.NewFunction(plainFind))
	for _, name := range []string{"match", "gmatch", "gsub"} {
		L.SetField(str, name, lua.LNil)
	}

	tab := L.GetGlobal(lua.TabLibName).(*lua.LTable)
	tconcat := tab.RawGetString("concat")
	L.SetField(tab, "concat", L.NewFunction(func(L *lua.LState) int {
		t := L.CheckTable(1)
		sep := L.OptString(2, "")
		i := L.OptInt(3, 1)
		j := L.OptInt(4, t.Len())
		size := 0
		for k := i; k <= j; k++ {
			if size > l.maxString {
				break
			}
			v := t.RawGetInt(k)
			if !lua.LVCanConvToString(v) {
				// the builtin reports the bad element
				break
			}
			size += len(lua.LVAsString(v))
			if k < j {
				size += len(sep)
			}
		}
		l.check(L, "table.concat", size)
		return l.delegate(L, tconcat)
	}))
}

// delegate calls fn with the current arguments and leaves its results on
// the stack.
func (l limits) delegate(L *lua.LState, fn lua.LValue) int {
	top := L.GetTop()
	L.Push(fn)
	for i := 1; i <= top; i++ {
		L.Push(L.Get(i))
	}
	L.Call(top, lua.MultRet)
	return L.GetTop() - top
}

func checkFormat(L *lua.LState, f string) {
	for i := 0; i < len(f); i++ {
		if f[i] != '%' {
			continue
		}
		i++
		for i < len(f) && strings.IndexByte("-+ #0", f[i]) >= 0 {
			i++
		}
		width := 0
		for i < len(f) && f[i] >= '0' && f[i] <= '9' {
			width = width*10 + int(f[i]-'0')
			if width > maxFormatWidth {
				L.RaiseError("invalid format (width or precision too long)")
			}
			i++
		}
		if i < len(f) && f[i] == '.' {
			i++
			precision := 0
			for i < len(f) && f[i] >= '0' && f[i] <= '9' {
				precision = precision*10 + int(f[i]-'0')
				if precision > maxFormatWidth {
					L.RaiseError("invalid format (width or precision too long)")
				}
				i++
			}
		}
	}
}

// plainFind is string.find without patterns: the needle is always matched
// literally.
func plainFind(L *lua.LState) int {
	s := L.CheckString(1)
	sub := L.CheckString(2)
	init := L.OptInt(3, 1)
	if init < 0 {
		init = len(s) + init + 1
	}
	if init < 1 {
		init = 1
	}
	if init > len(s)+1 {
		L.Push(lua.LNil)
		return 1
	}
	idx := strings.Index(s[init-1:], sub)
	if idx < 0 {
		L.Push(lua.LNil)
		return 1
	}
	start := init + idx
	L.Push(lua.LNumber(start))
	L.Push(lua.LNumber(start + len(sub) - 1))
	return 2
}
