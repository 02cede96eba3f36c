package lua

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// bindTable reflects over v's exported methods and returns a Lua table
// exposing each as a callable field, e.g. State.get, State.set. mu
// serializes every call against L: gopher-lua's LState is not safe for
// concurrent use, and a bound method may be invoked by Go code running
// on a different goroutine than the one driving the script (an async
// hook firing, a background consolidation pass) when it in turn calls
// back into a script-registered function argument.
func bindTable(L *lua.LState, mu *sync.Mutex, execCtx func() context.Context, v any) *lua.LTable {
	t := L.NewTable()
	rv := reflect.ValueOf(v)
	rt := rv.Type()

	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if m.PkgPath != "" {
			continue // unexported
		}
		method := rv.Method(i)
		name := lowerFirst(m.Name)
		t.RawSetString(name, L.NewFunction(bindMethod(L, mu, execCtx, name, method)))
	}
	return t
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

// bindMethod wraps one bound Go method as an lua.LGFunction. A leading
// context.Context parameter is injected from execCtx() rather than read
// from the Lua stack, so scripts call State.get("key") rather than
// having to thread a context value through themselves.
func bindMethod(L *lua.LState, mu *sync.Mutex, execCtx func() context.Context, name string, method reflect.Value) lua.LGFunction {
	mt := method.Type()
	return func(ls *lua.LState) int {
		mu.Lock()
		defer mu.Unlock()

		args := make([]reflect.Value, mt.NumIn())
		stackIdx := 1 // gopher-lua args are 1-indexed
		for i := 0; i < mt.NumIn(); i++ {
			pt := mt.In(i)
			if pt == ctxType {
				args[i] = reflect.ValueOf(execCtx())
				continue
			}
			if pt.Kind() == reflect.Func {
				args[i] = bindCallback(L, mu, execCtx, ls.Get(stackIdx), pt)
				stackIdx++
				continue
			}
			lv := ls.Get(stackIdx)
			stackIdx++
			av, err := luaToGo(lv, pt)
			if err != nil {
				ls.RaiseError("%s: argument %d: %v", name, i+1, err)
				return 0
			}
			args[i] = av
		}

		results := method.Call(args)
		return pushResults(ls, name, results)
	}
}

// bindCallback wraps a Lua function value so Go code holding the
// returned closure can invoke it like any native callback (hooks.Fn,
// registry.ToolHandler, registry.AgentFactory, ...). The call is
// serialized through mu exactly like a forward bound method, since it
// re-enters the same LState.
func bindCallback(L *lua.LState, mu *sync.Mutex, execCtx func() context.Context, lv lua.LValue, targetType reflect.Type) reflect.Value {
	fn, ok := lv.(*lua.LFunction)
	if !ok {
		// Not callable: produce a closure that always errors, matching
		// the "clear error rather than panic" convention used
		// elsewhere in the bridge.
		return reflect.MakeFunc(targetType, func(in []reflect.Value) []reflect.Value {
			return zeroCallbackResults(targetType, fmt.Errorf("lua: expected a function, got %s", lv.Type()))
		})
	}

	return reflect.MakeFunc(targetType, func(in []reflect.Value) []reflect.Value {
		mu.Lock()
		defer mu.Unlock()

		luaArgs := make([]lua.LValue, 0, len(in))
		for i, v := range in {
			if targetType.In(i) == ctxType {
				continue // the script's callback body doesn't need the ctx plumbed back
			}
			luaArgs = append(luaArgs, goToLua(L, v.Interface()))
		}

		numOut := targetType.NumOut()
		if err := L.CallByParam(lua.P{Fn: fn, NRet: numOut, Protect: true}, luaArgs...); err != nil {
			return zeroCallbackResults(targetType, fmt.Errorf("lua: callback: %w", err))
		}

		out := make([]reflect.Value, numOut)
		// gopher-lua pushes return values in order; pop from the top in
		// reverse, then reverse the slice back.
		raw := make([]lua.LValue, numOut)
		for i := numOut - 1; i >= 0; i-- {
			raw[i] = L.Get(-1)
			L.Pop(1)
		}
		for i := 0; i < numOut; i++ {
			ot := targetType.Out(i)
			if ot == errType {
				if raw[i] == lua.LNil || raw[i] == nil {
					out[i] = reflect.Zero(errType)
				} else {
					out[i] = reflect.ValueOf(fmt.Errorf("%s", raw[i].String())).Convert(errType)
				}
				continue
			}
			gv, err := luaToGo(raw[i], ot)
			if err != nil {
				out[i] = reflect.Zero(ot)
				continue
			}
			out[i] = gv
		}
		return out
	})
}

func zeroCallbackResults(targetType reflect.Type, err error) []reflect.Value {
	out := make([]reflect.Value, targetType.NumOut())
	for i := range out {
		ot := targetType.Out(i)
		if ot == errType {
			out[i] = reflect.ValueOf(err).Convert(errType)
			continue
		}
		out[i] = reflect.Zero(ot)
	}
	return out
}

// pushResults pushes a bound method's (value, error) / (error) / (value)
// return convention onto the Lua stack and returns the pushed count.
// A non-nil trailing error raises a Lua error (caught by pcall on the
// script side) rather than being returned as a value, so errors cross
// the language boundary as a raised error.
func pushResults(L *lua.LState, name string, results []reflect.Value) int {
	if len(results) == 0 {
		return 0
	}
	last := results[len(results)-1]
	if last.Type() == errType {
		if !last.IsNil() {
			L.RaiseError("%s: %v", name, last.Interface().(error))
			return 0
		}
		results = results[:len(results)-1]
	}
	for _, r := range results {
		L.Push(goToLua(L, r.Interface()))
	}
	return len(results)
}
