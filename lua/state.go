package lua

import (
	"encoding/json"
	"fmt"
	"strings"

	glua "github.com/yuin/gopher-lua"
)

// captureGlobals serializes L's global table to a JSON object of simple
// types (nil, bool, number, string, and nested objects/arrays of those).
// Functions, userdata, and other non-serializable globals are skipped, and so
// is any table that directly holds a function (the library tables, host
// namespaces and _G) — only state that can round-trip through restoreGlobals
// matters between command-stack steps.
func captureGlobals(L *glua.LState) (json.RawMessage, error) {
	out := make(map[string]any)

	globals := L.G.Global
	globals.ForEach(func(k, v glua.LValue) {
		name, ok := k.(glua.LString)
		if !ok {
			return
		}
		if strings.HasPrefix(string(name), "__llumen_") {
			return
		}
		// _G holds itself, so converting it would never terminate.
		if tbl, ok := v.(*glua.LTable); ok {
			hasFunc := false
			tbl.ForEach(func(_, el glua.LValue) {
				if el.Type() == glua.LTFunction {
					hasFunc = true
				}
			})
			if hasFunc {
				return
			}
		}
		if val, ok := lValueToGo(v); ok {
			out[string(name)] = val
		}
	})

	return json.Marshal(out)
}

// restoreGlobals replaces L's globals with the JSON object previously
// captured by captureGlobals. An empty/nil state is a no-op (first
// execution in a path).
func restoreGlobals(L *glua.LState, state json.RawMessage) error {
	if len(state) == 0 {
		return nil
	}

	var values map[string]any
	if err := json.Unmarshal(state, &values); err != nil {
		return fmt.Errorf("restore globals: %w", err)
	}

	for name, val := range values {
		L.SetGlobal(name, goToLValue(L, val))
	}
	return nil
}

// lValueToGo converts a Lua value to a JSON-marshalable Go value. ok is
// false for values with no JSON representation (function, userdata,
// channel, thread).
func lValueToGo(v glua.LValue) (any, bool) {
	switch v := v.(type) {
	case glua.LBool:
		return bool(v), true
	case glua.LNumber:
		return float64(v), true
	case glua.LString:
		return string(v), true
	case *glua.LNilType:
		return nil, true
	case *glua.LTable:
		return lTableToGo(v)
	default:
		return nil, false
	}
}

// lTableToGo converts a Lua table to either a JSON array (if it looks like a
// contiguous 1-based integer-keyed sequence) or a JSON object.
func lTableToGo(t *glua.LTable) (any, bool) {
	length := t.Len()
	if length > 0 {
		arr := make([]any, 0, length)
		isSeq := true
		for i := 1; i <= length; i++ {
			val, ok := lValueToGo(t.RawGetInt(i))
			if !ok {
				isSeq = false
				break
			}
			arr = append(arr, val)
		}
		if isSeq {
			return arr, true
		}
	}

	obj := make(map[string]any)
	t.ForEach(func(k, v glua.LValue) {
		key, ok := k.(glua.LString)
		if !ok {
			return
		}
		if val, ok := lValueToGo(v); ok {
			obj[string(key)] = val
		}
	})
	return obj, true
}

// goToLValue converts a decoded JSON value back into a Lua value.
func goToLValue(L *glua.LState, v any) glua.LValue {
	switch v := v.(type) {
	case nil:
		return glua.LNil
	case bool:
		return glua.LBool(v)
	case float64:
		return glua.LNumber(v)
	case string:
		return glua.LString(v)
	case []any:
		tbl := L.NewTable()
		for i, el := range v {
			tbl.RawSetInt(i+1, goToLValue(L, el))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, el := range v {
			tbl.RawSetString(k, goToLValue(L, el))
		}
		return tbl
	default:
		return glua.LNil
	}
}
