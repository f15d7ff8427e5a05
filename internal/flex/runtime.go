// Package flex runs Lua layer functions: per-feature min zoom and property
// rewriting, called as fn(shape_type, props, id, meta).
package flex

import (
	"fmt"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// Runtime owns one Lua state. Calls are serialized.
type Runtime struct {
	L  *lua.LState
	mu sync.Mutex
}

// NewRuntime creates a Lua state with the tile helpers registered
func NewRuntime() *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	RegisterTransforms(L)
	return &Runtime{L: L}
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// LoadFile loads and executes a Lua file defining layer functions
func (r *Runtime) LoadFile(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	return nil
}

func (r *Runtime) function(name string) (*lua.LFunction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn, ok := r.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("lua function %q is not defined", name)
	}
	return fn, nil
}

// call runs fn with the layer function arguments and returns its result
func (r *Runtime) call(fn *lua.LFunction, shape rawr.ShapeType, props map[string]any, id int64, meta rawr.Meta) (lua.LValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	L := r.L
	err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(shape.String()),
		propsToLua(L, props),
		lua.LNumber(id),
		metaToLua(L, meta),
	)
	if err != nil {
		return lua.LNil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// MinZoomFunc wraps the global function name. A nil return leaves the
// feature out of the layer; a Lua error does the same and is logged.
func (r *Runtime) MinZoomFunc(name string) (rawr.MinZoomFunc, error) {
	fn, err := r.function(name)
	if err != nil {
		return nil, err
	}
	return func(shape rawr.ShapeType, props map[string]any, id int64, meta rawr.Meta) (float64, bool) {
		ret, err := r.call(fn, shape, props, id, meta)
		if err != nil {
			logger.Get().Warn("Min zoom function failed",
				zap.String("function", name), zap.Int64("id", id), zap.Error(err))
			return 0, false
		}
		n, ok := ret.(lua.LNumber)
		if !ok {
			return 0, false
		}
		return float64(n), true
	}, nil
}

// PropsFunc wraps the global function name. The function returns a new
// table of properties; nil or an error keeps the input properties.
func (r *Runtime) PropsFunc(name string) (rawr.PropsFunc, error) {
	fn, err := r.function(name)
	if err != nil {
		return nil, err
	}
	return func(shape rawr.ShapeType, props map[string]any, id int64, meta rawr.Meta) map[string]any {
		ret, err := r.call(fn, shape, props, id, meta)
		if err != nil {
			logger.Get().Warn("Props function failed",
				zap.String("function", name), zap.Int64("id", id), zap.Error(err))
			return props
		}
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return props
		}
		return luaToProps(tbl)
	}, nil
}

func propsToLua(L *lua.LState, props map[string]any) *lua.LTable {
	tbl := L.CreateTable(0, len(props))
	for k, v := range props {
		if lv := toLua(v); lv != lua.LNil {
			tbl.RawSetString(k, lv)
		}
	}
	return tbl
}

func toLua(v any) lua.LValue {
	switch x := v.(type) {
	case string:
		return lua.LString(x)
	case bool:
		return lua.LBool(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	}
	return lua.LNil
}

func metaToLua(L *lua.LState, meta rawr.Meta) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("source", lua.LString(meta.Source))
	if meta.OSM != nil {
		o := meta.OSM
		L.SetField(tbl, "relations_using_node", L.NewFunction(idsLookup(o.RelationsUsingNode)))
		L.SetField(tbl, "relations_using_way", L.NewFunction(idsLookup(o.RelationsUsingWay)))
		L.SetField(tbl, "relation_tags", L.NewFunction(func(L *lua.LState) int {
			rel := o.Relation(L.CheckInt64(1))
			if rel == nil {
				L.Push(lua.LNil)
				return 1
			}
			t := L.CreateTable(0, len(rel.Tags))
			for _, tag := range rel.Tags {
				t.RawSetString(tag.Key, lua.LString(tag.Value))
			}
			L.Push(t)
			return 1
		}))
	}
	return tbl
}

func idsLookup(fn func(int64) []int64) lua.LGFunction {
	return func(L *lua.LState) int {
		ids := fn(L.CheckInt64(1))
		t := L.CreateTable(len(ids), 0)
		for _, id := range ids {
			t.Append(lua.LNumber(id))
		}
		L.Push(t)
		return 1
	}
}

func luaToProps(tbl *lua.LTable) map[string]any {
	props := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		switch x := v.(type) {
		case lua.LString:
			props[string(key)] = string(x)
		case lua.LNumber:
			props[string(key)] = float64(x)
		case lua.LBool:
			props[string(key)] = bool(x)
		}
	})
	return props
}

// Functions lists the global functions defined by loaded code, sorted
func (r *Runtime) Functions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	r.L.G.Global.ForEach(func(k, v lua.LValue) {
		if _, ok := v.(*lua.LFunction); ok {
			if s, ok := k.(lua.LString); ok {
				names = append(names, string(s))
			}
		}
	})
	sort.Strings(names)
	return names
}
