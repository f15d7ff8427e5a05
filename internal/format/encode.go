package format

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// LabelPlacementKey marks the extra point feature emitted for a label
const LabelPlacementKey = "label_placement"

// Formatter encodes the layers fetched for one tile
type Formatter interface {
	Info() Format
	// Encode renders layers for tile c. nominalZoom is the zoom the content
	// was selected for, which differs from c.Zoom for tiles larger than 256px.
	Encode(c coord.Coord, nominalZoom int, layers []rawr.LayerFeatures) ([]byte, error)
}

// NewFormatter returns the encoder for f
func NewFormatter(f Format) (Formatter, error) {
	switch f.Name {
	case JSON.Name:
		return JSONFormatter{}, nil
	case MVT.Name:
		return MVTFormatter{}, nil
	}
	return nil, fmt.Errorf("no encoder for format %q", f.Name)
}

// toWGS84 returns a lon/lat copy of a mercator geometry
func toWGS84(g orb.Geometry) orb.Geometry {
	return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84)
}

// scalarProps keeps the values both encodings can represent
func scalarProps(props map[string]any) geojson.Properties {
	out := make(geojson.Properties, len(props))
	for k, v := range props {
		switch x := v.(type) {
		case string, bool, float64, int64, int:
			out[k] = x
		case float32:
			out[k] = float64(x)
		}
	}
	return out
}

// collection converts a layer to lon/lat GeoJSON. Features with a label
// point are followed by a point feature carrying the same properties.
func collection(l rawr.LayerFeatures) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range l.Features {
		feat := geojson.NewFeature(toWGS84(f.Geometry))
		feat.Properties = scalarProps(f.Props)
		if f.ID > 0 {
			feat.ID = uint64(f.ID)
		}
		fc.Append(feat)

		if f.LabelPoint != nil {
			label := geojson.NewFeature(toWGS84(*f.LabelPoint))
			label.Properties = maps.Clone(feat.Properties)
			label.Properties[LabelPlacementKey] = true
			label.ID = feat.ID
			fc.Append(label)
		}
	}
	return fc
}

// JSONFormatter writes an object of layer name to FeatureCollection
type JSONFormatter struct{}

func (JSONFormatter) Info() Format { return JSON }

func (JSONFormatter) Encode(_ coord.Coord, _ int, layers []rawr.LayerFeatures) ([]byte, error) {
	out := make(map[string]*geojson.FeatureCollection, len(layers))
	for _, l := range layers {
		out[l.Layer] = collection(l)
	}
	return json.Marshal(out)
}

// MVTFormatter writes a Mapbox vector tile with the default 4096 extent
type MVTFormatter struct{}

func (MVTFormatter) Info() Format { return MVT }

func (MVTFormatter) Encode(c coord.Coord, _ int, layers []rawr.LayerFeatures) ([]byte, error) {
	tile := maptile.New(uint32(c.Column), uint32(c.Row), maptile.Zoom(c.Zoom))

	var out mvt.Layers
	for _, l := range layers {
		layer := mvt.NewLayer(l.Layer, collection(l))
		layer.Clip(tile.Bound())
		layer.ProjectToTile(tile)
		layer.RemoveEmpty(0.5, 0.5)
		out = append(out, layer)
	}
	data, err := mvt.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mvt %s: %w", c, err)
	}
	return data, nil
}
