package flex

import (
	"math"
	"strconv"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// RegisterTransforms installs the helper functions layer code can call,
// both under the tilequeue.transforms table and as globals.
func RegisterTransforms(L *lua.LState) {
	fns := map[string]lua.LGFunction{
		"trim":          luaTrim,
		"lower":         luaLower,
		"parse_int":     luaParseInt,
		"parse_real":    luaParseReal,
		"parse_bool":    luaParseBool,
		"get_name":      luaGetName,
		"clamp":         luaClamp,
		"zoom_for_area": luaZoomForArea,
		"road_sort_key": luaRoadSortKey,
	}

	transforms := L.NewTable()
	for name, fn := range fns {
		f := L.NewFunction(fn)
		L.SetField(transforms, name, f)
		L.SetGlobal(name, f)
	}

	tq := L.NewTable()
	L.SetField(tq, "transforms", transforms)
	L.SetField(tq, "max_zoom", lua.LNumber(coord.MaxZoom))
	L.SetGlobal("tilequeue", tq)
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

// luaParseInt parses a string, truncating decimals, with an optional default
func luaParseInt(L *lua.LState) int {
	s := strings.TrimSpace(L.CheckString(1))
	def := L.OptInt64(2, 0)

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		L.Push(lua.LNumber(v))
	} else if f, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(int64(f)))
	} else {
		L.Push(lua.LNumber(def))
	}
	return 1
}

func luaParseReal(L *lua.LState) int {
	s := strings.TrimSpace(L.CheckString(1))
	def := float64(L.OptNumber(2, 0))

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		L.Push(lua.LNumber(v))
	} else {
		L.Push(lua.LNumber(def))
	}
	return 1
}

// luaParseBool treats OSM's yes/true/1 as true and any other non-empty,
// non-negative value as true as well
func luaParseBool(L *lua.LState) int {
	switch strings.ToLower(strings.TrimSpace(L.CheckString(1))) {
	case "no", "false", "0", "off", "":
		L.Push(lua.LFalse)
	default:
		L.Push(lua.LTrue)
	}
	return 1
}

// luaGetName returns name, then int_name, then name:en, or nil
func luaGetName(L *lua.LState) int {
	tags := L.CheckTable(1)
	for _, key := range []string{"name", "int_name", "name:en"} {
		if s := lua.LVAsString(L.GetField(tags, key)); s != "" {
			L.Push(lua.LString(s))
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}

func luaClamp(L *lua.LState) int {
	v := float64(L.CheckNumber(1))
	lo := float64(L.CheckNumber(2))
	hi := float64(L.CheckNumber(3))
	L.Push(lua.LNumber(math.Min(math.Max(v, lo), hi)))
	return 1
}

// ZoomForArea returns the fractional zoom at which a feature of the given
// mercator area covers minPixels pixels of a 256px tile.
func ZoomForArea(area, minPixels float64) float64 {
	if area <= 0 {
		return math.Inf(1)
	}
	pixel := 2 * coord.MaxExtent / 256
	z := 0.5 * math.Log2(minPixels*pixel*pixel/area)
	return math.Max(z, 0)
}

// luaZoomForArea(area, min_pixels=1)
func luaZoomForArea(L *lua.LState) int {
	area := float64(L.CheckNumber(1))
	minPixels := float64(L.OptNumber(2, 1))
	z := ZoomForArea(area, minPixels)
	if math.IsInf(z, 1) {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(z))
	return 1
}

var highwaySortKeys = map[string]int{
	"motorway":       380,
	"motorway_link":  375,
	"trunk":          370,
	"trunk_link":     365,
	"primary":        360,
	"primary_link":   355,
	"secondary":      350,
	"secondary_link": 345,
	"tertiary":       340,
	"tertiary_link":  335,
	"residential":    330,
	"unclassified":   330,
	"living_street":  320,
	"pedestrian":     310,
	"service":        300,
	"track":          290,
	"path":           280,
	"footway":        280,
	"cycleway":       280,
}

var railwaySortKeys = map[string]int{
	"rail":       440,
	"light_rail": 430,
	"subway":     420,
	"tram":       410,
}

// RoadSortKey orders road and rail lines for drawing: railways above
// highways, bridges above tunnels, shifted by layer.
func RoadSortKey(tags map[string]string) int {
	z := 0
	if hw, ok := tags["highway"]; ok {
		z = 300
		if v, ok := highwaySortKeys[hw]; ok {
			z = v
		}
	}
	if v, ok := railwaySortKeys[tags["railway"]]; ok && v > z {
		z = v
	}
	if layer, err := strconv.Atoi(tags["layer"]); err == nil {
		z += max(min(layer, 5), -5) * 10
	}
	if b := tags["bridge"]; b != "" && b != "no" {
		z += 100
	}
	if t := tags["tunnel"]; t != "" && t != "no" {
		z -= 100
	}
	return z
}

func luaRoadSortKey(L *lua.LState) int {
	tbl := L.CheckTable(1)
	tags := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			tags[string(ks)] = lua.LVAsString(v)
		}
	})
	L.Push(lua.LNumber(RoadSortKey(tags)))
	return 1
}
