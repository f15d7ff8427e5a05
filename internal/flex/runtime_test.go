package flex

import (
	"math"
	"testing"

	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

const layerCode = `
function pois_min_zoom(shape, props, id, meta)
  if shape ~= "point" then return nil end
  if props.railway == "station" then return 10 end
  if props.amenity ~= nil then return parse_real(props.min_zoom or "", 15) end
  return nil
end

function landuse_min_zoom(shape, props, id, meta)
  if props.way_area == nil then return nil end
  return clamp(zoom_for_area(props.way_area, 4), 4, 16)
end

function broken(shape, props, id, meta)
  error("boom")
end

function roads_props(shape, props, id, meta)
  return { kind = props.highway, sort_rank = road_sort_key(props), source = meta.source }
end

function route_count(shape, props, id, meta)
  local rels = meta.relations_using_way(id)
  return #rels
end
`

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r := NewRuntime()
	t.Cleanup(r.Close)
	if err := r.LoadString(layerCode); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	return r
}

func TestMinZoomFunc(t *testing.T) {
	r := newTestRuntime(t)
	fn, err := r.MinZoomFunc("pois_min_zoom")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		shape  rawr.ShapeType
		props  map[string]any
		want   float64
		wantOK bool
	}{
		{"station", rawr.ShapePoint, map[string]any{"railway": "station"}, 10, true},
		{"amenity default", rawr.ShapePoint, map[string]any{"amenity": "cafe"}, 15, true},
		{"amenity explicit", rawr.ShapePoint, map[string]any{"amenity": "cafe", "min_zoom": "13.5"}, 13.5, true},
		{"untagged", rawr.ShapePoint, map[string]any{}, 0, false},
		{"wrong shape", rawr.ShapeLine, map[string]any{"railway": "station"}, 0, false},
	}
	for _, tt := range tests {
		got, ok := fn(tt.shape, tt.props, 1, rawr.Meta{Source: "osm"})
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("%s: got (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMinZoomFuncArea(t *testing.T) {
	r := newTestRuntime(t)
	fn, err := r.MinZoomFunc("landuse_min_zoom")
	if err != nil {
		t.Fatal(err)
	}
	small, ok := fn(rawr.ShapePolygon, map[string]any{"way_area": 1000.0}, 1, rawr.Meta{})
	if !ok {
		t.Fatal("expected a min zoom for a small polygon")
	}
	big, _ := fn(rawr.ShapePolygon, map[string]any{"way_area": 1e10}, 2, rawr.Meta{})
	if !(big < small) || big < 4 || small > 16 {
		t.Errorf("bigger areas should appear earlier: big=%v small=%v", big, small)
	}
}

func TestMinZoomFuncErrorExcludes(t *testing.T) {
	r := newTestRuntime(t)
	fn, err := r.MinZoomFunc("broken")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fn(rawr.ShapePoint, nil, 1, rawr.Meta{}); ok {
		t.Error("a failing function should exclude the feature")
	}
	// the state is still usable afterwards
	ok2, err := r.MinZoomFunc("pois_min_zoom")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ok2(rawr.ShapePoint, map[string]any{"railway": "station"}, 1, rawr.Meta{}); !ok {
		t.Error("runtime unusable after an error")
	}
}

func TestUndefinedFunction(t *testing.T) {
	r := newTestRuntime(t)
	if _, err := r.MinZoomFunc("nope"); err == nil {
		t.Error("expected error for undefined function")
	}
	if _, err := r.PropsFunc("nope"); err == nil {
		t.Error("expected error for undefined function")
	}
}

func TestPropsFunc(t *testing.T) {
	r := newTestRuntime(t)
	fn, err := r.PropsFunc("roads_props")
	if err != nil {
		t.Fatal(err)
	}
	in := map[string]any{"highway": "primary", "bridge": "yes"}
	got := fn(rawr.ShapeLine, in, 5, rawr.Meta{Source: "osm"})
	if got["kind"] != "primary" || got["sort_rank"] != 460.0 || got["source"] != "osm" {
		t.Errorf("unexpected props %v", got)
	}
	if _, ok := in["kind"]; ok {
		t.Error("input props were modified")
	}

	broken, _ := r.PropsFunc("broken")
	if out := broken(rawr.ShapeLine, in, 5, rawr.Meta{}); out["highway"] != "primary" {
		t.Errorf("failing props function should keep input, got %v", out)
	}
}

func TestMetaRelationLookups(t *testing.T) {
	r := newTestRuntime(t)
	fn, err := r.MinZoomFunc("route_count")
	if err != nil {
		t.Fatal(err)
	}
	o, err := rawr.NewOSM(&rawr.Tables{
		Rels: []rawr.RelRow{
			{ID: 1, WayOff: 0, RelOff: 1, Parts: []int64{42}, Tags: []string{"type", "route"}},
			{ID: 2, WayOff: 0, RelOff: 1, Parts: []int64{42}, Tags: []string{"type", "route"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := fn(rawr.ShapeLine, nil, 42, rawr.Meta{OSM: o})
	if !ok || got != 2 {
		t.Errorf("route_count = %v, %v", got, ok)
	}
}

func TestFunctions(t *testing.T) {
	r := newTestRuntime(t)
	names := r.Functions()
	found := false
	for _, n := range names {
		if n == "pois_min_zoom" {
			found = true
		}
	}
	if !found {
		t.Errorf("Functions() = %v", names)
	}
}

func TestZoomForArea(t *testing.T) {
	pixel := 2 * 20037508.342789244 / 256
	// one pixel at zoom 0
	if z := ZoomForArea(pixel*pixel, 1); math.Abs(z) > 1e-9 {
		t.Errorf("ZoomForArea(pixel^2) = %v, want 0", z)
	}
	// a quarter of that needs one more zoom
	if z := ZoomForArea(pixel*pixel/4, 1); math.Abs(z-1) > 1e-9 {
		t.Errorf("ZoomForArea(pixel^2/4) = %v, want 1", z)
	}
	if !math.IsInf(ZoomForArea(0, 1), 1) {
		t.Error("zero area should never appear")
	}
}
