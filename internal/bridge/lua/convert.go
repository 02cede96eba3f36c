// Package lua implements the kernel's primary script engine:
// it injects the bridge's resolved global map into a gopher-lua state,
// marshals values across the Lua/Go boundary by reflection, captures
// stdout/stderr into the kernel's IOContext, and honors a bounded
// timeout plus the kernel's cooperative interrupt flag.
//
// The binder walks a Go value tree and hands it to the VM in
// gopher-lua's LValue/LGFunction convention (goja remains the JS
// placeholder in bridge/js).
package lua

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts an arbitrary Go value into the nearest LValue,
// recursing through maps/slices/structs/pointers. Structs and maps with
// non-string-keyed types fall back to a JSON round-trip into a generic
// map/slice tree, since the script side only ever sees tables.
func goToLua(L *lua.LState, v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}
	switch val := v.(type) {
	case lua.LValue:
		return val
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case error:
		return lua.LString(val.Error())
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys) // deterministic field order for tests/debugging
		for _, k := range keys {
			t.RawSetString(k, goToLua(L, val[k]))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(goToLua(L, item))
		}
		return t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return goToLua(L, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		t := L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.Append(goToLua(L, rv.Index(i).Interface()))
		}
		return t
	case reflect.Struct, reflect.Map:
		// No direct conversion known; round-trip through JSON into a
		// generic tree gopher-lua can represent natively.
		buf, err := json.Marshal(v)
		if err != nil {
			return lua.LString(fmt.Sprintf("%v", v))
		}
		var generic any
		if err := json.Unmarshal(buf, &generic); err != nil {
			return lua.LString(string(buf))
		}
		return goToLua(L, generic)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// luaToGoGeneric converts an LValue into a generic Go representation
// (string/float64/bool/map[string]any/[]any/nil) with no target type in
// mind; used as the intermediate step before coercing into a specific
// reflect.Type.
func luaToGoGeneric(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		// A table is an array if every key is a contiguous 1..N
		// integer; otherwise it's a map.
		maxN := 0
		isArray := true
		val.ForEach(func(k, _ lua.LValue) {
			n, ok := k.(lua.LNumber)
			if !ok || float64(n) != float64(int(n)) || int(n) < 1 {
				isArray = false
				return
			}
			if int(n) > maxN {
				maxN = int(n)
			}
		})
		if isArray && maxN == val.Len() {
			out := make([]any, maxN)
			for i := 1; i <= maxN; i++ {
				out[i-1] = luaToGoGeneric(val.RawGetInt(i))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			out[k.String()] = luaToGoGeneric(v)
		})
		return out
	default:
		return lv.String()
	}
}

var (
	bytesType = reflect.TypeOf([]byte(nil))
)

// luaToGo coerces lv into a reflect.Value assignable to targetType.
// Function-typed targets (callbacks the script hands back to Go, e.g.
// hooks.Fn or registry.ToolHandler) are handled by the caller
// (bindCallback) before this is reached.
func luaToGo(lv lua.LValue, targetType reflect.Type) (reflect.Value, error) {
	if targetType == bytesType {
		s, ok := lv.(lua.LString)
		if !ok {
			return reflect.Value{}, fmt.Errorf("lua: expected string for []byte argument, got %s", lv.Type())
		}
		return reflect.ValueOf([]byte(string(s))), nil
	}

	generic := luaToGoGeneric(lv)

	switch targetType.Kind() {
	case reflect.String:
		s, _ := generic.(string)
		return reflect.ValueOf(s).Convert(targetType), nil
	case reflect.Bool:
		b, _ := generic.(bool)
		return reflect.ValueOf(b), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, _ := generic.(float64)
		iv := reflect.New(targetType).Elem()
		iv.SetInt(int64(f))
		return iv, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f, _ := generic.(float64)
		uv := reflect.New(targetType).Elem()
		uv.SetUint(uint64(f))
		return uv, nil
	case reflect.Float32, reflect.Float64:
		f, _ := generic.(float64)
		fv := reflect.New(targetType).Elem()
		fv.SetFloat(f)
		return fv, nil
	case reflect.Interface:
		if generic == nil {
			return reflect.Zero(targetType), nil
		}
		return reflect.ValueOf(generic), nil
	default:
		// Slices, maps, structs, pointers: round-trip the generic tree
		// through JSON into the exact target shape.
		buf, err := json.Marshal(generic)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("lua: encode argument: %w", err)
		}
		target := reflect.New(targetType)
		if err := json.Unmarshal(buf, target.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("lua: decode argument into %s: %w", targetType, err)
		}
		return target.Elem(), nil
	}
}
