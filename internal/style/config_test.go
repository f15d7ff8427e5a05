package style

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wegman-software/tilequeue-go/internal/flex"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

const layersYAML = `
layers:
  - name: pois
    shape_types: [point]
    min_zoom_lua: pois_min_zoom
    filter:
      exclude:
        access: [private]
  - name: roads
    shape_types: [line, multilinestring]
    min_zoom: 8
    filter:
      require_any: [highway]
label_placement_layers:
  polygon: [pois]
`

func TestParseConfigAndBuild(t *testing.T) {
	cfg, err := ParseConfig([]byte(layersYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if !cfg.NeedsLua() {
		t.Error("expected NeedsLua")
	}

	rt := flex.NewRuntime()
	defer rt.Close()
	if err := rt.LoadString(`function pois_min_zoom(s, p, id, m) return 14 end`); err != nil {
		t.Fatal(err)
	}

	tc, err := cfg.Build(rt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tc.Layers) != 2 {
		t.Fatalf("got %d layers", len(tc.Layers))
	}

	pois := tc.Layers[0]
	if z, ok := pois.MinZoom(rawr.ShapePoint, map[string]any{"amenity": "cafe"}, 1, rawr.Meta{}); !ok || z != 14 {
		t.Errorf("pois min zoom = %v, %v", z, ok)
	}
	if _, ok := pois.MinZoom(rawr.ShapePoint, map[string]any{"access": "private"}, 1, rawr.Meta{}); ok {
		t.Error("filter should exclude private features")
	}

	roads := tc.Layers[1]
	if !roads.Allows(rawr.ShapeLine) || roads.Allows(rawr.ShapePoint) {
		t.Error("roads shape types wrong")
	}
	if z, ok := roads.MinZoom(rawr.ShapeLine, map[string]any{"highway": "primary"}, 2, rawr.Meta{}); !ok || z != 8 {
		t.Errorf("roads min zoom = %v, %v", z, ok)
	}
	if _, ok := roads.MinZoom(rawr.ShapeLine, map[string]any{"railway": "rail"}, 2, rawr.Meta{}); ok {
		t.Error("roads should require highway")
	}
	if got := tc.LabelPlacementLayers[rawr.ShapePolygon]; len(got) != 1 || got[0] != "pois" {
		t.Errorf("label placement = %v", got)
	}
}

func TestBuildWithoutRuntime(t *testing.T) {
	cfg, err := ParseConfig([]byte(layersYAML))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Build(nil); err == nil {
		t.Error("expected error building Lua layers without a runtime")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", `layers: []`},
		{"no name", `layers: [{min_zoom: 1}]`},
		{"duplicate", `layers: [{name: a, min_zoom: 1}, {name: a, min_zoom: 2}]`},
		{"both zooms", `layers: [{name: a, min_zoom: 1, min_zoom_lua: f}]`},
		{"no zoom", `layers: [{name: a}]`},
		{"bad shape", `layers: [{name: a, min_zoom: 1, shape_types: [circle]}]`},
		{"bad label layer", "layers: [{name: a, min_zoom: 1}]\nlabel_placement_layers: {point: [b]}"},
	}
	for _, tt := range tests {
		if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layers.yaml")
	if err := os.WriteFile(path, []byte("layers: [{name: water, min_zoom: 0}]"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Layers[0].Name != "water" || *cfg.Layers[0].MinZoom != 0 {
		t.Errorf("unexpected config %+v", cfg.Layers[0])
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.NeedsLua() {
		t.Error("default config should not need Lua")
	}
	tc, err := cfg.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]rawr.LayerInfo{}
	for _, l := range tc.Layers {
		byName[l.Name] = l
	}
	if _, ok := byName[rawr.LayerWater].MinZoom(rawr.ShapePolygon, map[string]any{"natural": "water"}, 1, rawr.Meta{}); !ok {
		t.Error("water polygon should be in the water layer")
	}
	if _, ok := byName[rawr.LayerLanduse].MinZoom(rawr.ShapePolygon, map[string]any{"natural": "water"}, 1, rawr.Meta{}); ok {
		t.Error("water polygon should not be landuse")
	}
	if _, ok := byName[rawr.LayerBuildings].MinZoom(rawr.ShapePolygon, map[string]any{"building": "no"}, 1, rawr.Meta{}); ok {
		t.Error("building=no should be excluded")
	}
}

func TestFilterMatch(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *FilterConfig
		props    map[string]any
		expected bool
	}{
		{"no filter", nil, map[string]any{"a": "b"}, true},
		{"include any value", &FilterConfig{Include: map[string][]string{"highway": nil}}, map[string]any{"highway": "x"}, true},
		{"include value miss", &FilterConfig{Include: map[string][]string{"highway": {"primary"}}}, map[string]any{"highway": "x"}, false},
		{"include wildcard", &FilterConfig{Include: map[string][]string{"highway": {"*"}}}, map[string]any{"highway": "x"}, true},
		{"numeric value", &FilterConfig{Include: map[string][]string{"layer": {"1"}}}, map[string]any{"layer": 1.0}, true},
		{"exclude", &FilterConfig{Exclude: map[string][]string{"access": {"private"}}}, map[string]any{"access": "private"}, false},
		{"require any miss", &FilterConfig{RequireAny: []string{"name"}}, map[string]any{"ref": "1"}, false},
	}
	for _, tt := range tests {
		f := NewFilter(tt.cfg)
		if got := f.Match(tt.props); got != tt.expected {
			t.Errorf("%s: Match = %v, want %v", tt.name, got, tt.expected)
		}
	}
}
