// Package style loads the layer definitions a tile is rendered with.
package style

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wegman-software/tilequeue-go/internal/flex"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// Config lists the output layers and which of them get label points
type Config struct {
	Layers []LayerConfig `yaml:"layers"`
	// LabelPlacementLayers maps a shape type name to layer names
	LabelPlacementLayers map[string][]string `yaml:"label_placement_layers,omitempty"`
}

// LayerConfig defines one layer. Exactly one of MinZoom and MinZoomLua is set.
type LayerConfig struct {
	Name       string        `yaml:"name"`
	ShapeTypes []string      `yaml:"shape_types,omitempty"`
	MinZoom    *float64      `yaml:"min_zoom,omitempty"`
	MinZoomLua string        `yaml:"min_zoom_lua,omitempty"`
	PropsLua   string        `yaml:"props_lua,omitempty"`
	Filter     *FilterConfig `yaml:"filter,omitempty"`
}

// FilterConfig defines tag rules a feature must pass to enter a layer
type FilterConfig struct {
	// Include specifies which tag keys/values to include
	// If empty, all tags are included (no filtering)
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude is applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these tags must be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// LoadConfig loads a layer configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layers file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates layer YAML
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse layers YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks layer names and min zoom sources
func (c *Config) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("no layers defined")
	}
	seen := make(map[string]bool, len(c.Layers))
	for i, l := range c.Layers {
		if l.Name == "" {
			return fmt.Errorf("layer %d has no name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("layer %q defined twice", l.Name)
		}
		seen[l.Name] = true
		if (l.MinZoom == nil) == (l.MinZoomLua == "") {
			return fmt.Errorf("layer %q needs exactly one of min_zoom and min_zoom_lua", l.Name)
		}
		for _, s := range l.ShapeTypes {
			if _, err := rawr.ParseShapeType(s); err != nil {
				return fmt.Errorf("layer %q: %w", l.Name, err)
			}
		}
	}
	for shape, layers := range c.LabelPlacementLayers {
		if _, err := rawr.ParseShapeType(shape); err != nil {
			return fmt.Errorf("label_placement_layers: %w", err)
		}
		for _, name := range layers {
			if !seen[name] {
				return fmt.Errorf("label_placement_layers names unknown layer %q", name)
			}
		}
	}
	return nil
}

// NeedsLua reports whether any layer calls into Lua
func (c *Config) NeedsLua() bool {
	for _, l := range c.Layers {
		if l.MinZoomLua != "" || l.PropsLua != "" {
			return true
		}
	}
	return false
}

// Build resolves the configuration into tile layers. rt may be nil when no
// layer uses Lua.
func (c *Config) Build(rt *flex.Runtime) (rawr.TileConfig, error) {
	var tc rawr.TileConfig
	for _, l := range c.Layers {
		info, err := l.build(rt)
		if err != nil {
			return rawr.TileConfig{}, err
		}
		tc.Layers = append(tc.Layers, info)
	}
	if len(c.LabelPlacementLayers) > 0 {
		tc.LabelPlacementLayers = make(map[rawr.ShapeType][]string, len(c.LabelPlacementLayers))
		for shape, layers := range c.LabelPlacementLayers {
			st, _ := rawr.ParseShapeType(shape)
			tc.LabelPlacementLayers[st] = append(tc.LabelPlacementLayers[st], layers...)
		}
	}
	return tc, nil
}

func (l LayerConfig) build(rt *flex.Runtime) (rawr.LayerInfo, error) {
	info := rawr.LayerInfo{Name: l.Name}
	for _, s := range l.ShapeTypes {
		st, err := rawr.ParseShapeType(s)
		if err != nil {
			return info, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		info.ShapeTypes = append(info.ShapeTypes, st)
	}

	if l.MinZoomLua != "" || l.PropsLua != "" {
		if rt == nil {
			return info, fmt.Errorf("layer %q uses Lua but no Lua file is loaded", l.Name)
		}
	}

	if l.MinZoomLua != "" {
		fn, err := rt.MinZoomFunc(l.MinZoomLua)
		if err != nil {
			return info, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		info.MinZoom = fn
	} else {
		z := *l.MinZoom
		info.MinZoom = func(rawr.ShapeType, map[string]any, int64, rawr.Meta) (float64, bool) {
			return z, true
		}
	}

	if l.PropsLua != "" {
		fn, err := rt.PropsFunc(l.PropsLua)
		if err != nil {
			return info, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		info.Props = fn
	}

	if l.Filter != nil {
		f := NewFilter(l.Filter)
		if f.HasFilter() {
			inner := info.MinZoom
			info.MinZoom = func(shape rawr.ShapeType, props map[string]any, id int64, meta rawr.Meta) (float64, bool) {
				if !f.Match(props) {
					return 0, false
				}
				return inner(shape, props, id, meta)
			}
		}
	}
	return info, nil
}

// Filter checks feature properties against a FilterConfig
type Filter struct {
	cfg *FilterConfig
}

// NewFilter creates a filter from configuration
func NewFilter(cfg *FilterConfig) *Filter {
	if cfg == nil {
		return &Filter{cfg: &FilterConfig{}}
	}
	return &Filter{cfg: cfg}
}

func propValue(props map[string]any, key string) (string, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return fmt.Sprint(v), true
}

func matchesAny(value string, values []string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == value || v == "*" {
			return true
		}
	}
	return false
}

// Match reports whether props pass the rules. Require_any is checked first,
// then include, then exclude.
func (f *Filter) Match(props map[string]any) bool {
	if len(f.cfg.RequireAny) > 0 {
		found := false
		for _, key := range f.cfg.RequireAny {
			if _, ok := propValue(props, key); ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.cfg.Include) > 0 {
		matched := false
		for key, values := range f.cfg.Include {
			if v, ok := propValue(props, key); ok && matchesAny(v, values) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range f.cfg.Exclude {
		if v, ok := propValue(props, key); ok && matchesAny(v, values) {
			return false
		}
	}

	return true
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	return len(f.cfg.Include) > 0 || len(f.cfg.Exclude) > 0 || len(f.cfg.RequireAny) > 0
}
