// Package rawr indexes raw OSM feature rows for one top-level tile and
// answers per-tile queries against them.
package rawr

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// Source table names, in ingestion order
const (
	TablePoint   = "point"
	TableLine    = "line"
	TablePolygon = "polygon"
	TableWays    = "ways"
	TableRels    = "rels"
)

// TableNames lists the tables in the order they must be read
var TableNames = []string{TablePoint, TableLine, TablePolygon, TableWays, TableRels}

// ShapeType is the normalized geometry kind of a feature
type ShapeType int

const (
	ShapePoint ShapeType = iota + 1
	ShapeLine
	ShapePolygon
)

func (s ShapeType) String() string {
	switch s {
	case ShapePoint:
		return "point"
	case ShapeLine:
		return "line"
	case ShapePolygon:
		return "polygon"
	}
	return "unknown"
}

// ParseShapeType reads a shape type name. Multi* names map to the single type.
func ParseShapeType(s string) (ShapeType, error) {
	switch s {
	case "point", "multipoint", "Point", "MultiPoint":
		return ShapePoint, nil
	case "line", "linestring", "multilinestring", "LineString", "MultiLineString":
		return ShapeLine, nil
	case "polygon", "multipolygon", "Polygon", "MultiPolygon":
		return ShapePolygon, nil
	}
	return 0, fmt.Errorf("unknown shape type %q", s)
}

// ShapeTypeOf classifies a geometry
func ShapeTypeOf(g orb.Geometry) ShapeType {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return ShapePoint
	case orb.LineString, orb.MultiLineString:
		return ShapeLine
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return ShapePolygon
	}
	return 0
}

// FeatureRow is a row of the point, line or polygon table. Geometry is WKB
// in web mercator. Negative IDs are features derived from relations.
type FeatureRow struct {
	ID       int64
	Geometry []byte
	Props    map[string]any
}

// WayRow is a row of the ways table. Tags alternate key, value.
type WayRow struct {
	ID    int64
	Nodes []int64
	Tags  []string
}

// RelRow is a row of the rels table. Parts holds node IDs, then way IDs from
// WayOff, then relation IDs from RelOff.
type RelRow struct {
	ID      int64
	WayOff  int
	RelOff  int
	Parts   []int64
	Members []string
	Tags    []string
}

// Tables holds every row fetched for one top-level tile
type Tables struct {
	Points   []FeatureRow
	Lines    []FeatureRow
	Polygons []FeatureRow
	Ways     []WayRow
	Rels     []RelRow
}

// FeatureRows returns the feature table with the given name
func (t *Tables) FeatureRows(name string) []FeatureRow {
	switch name {
	case TablePoint:
		return t.Points
	case TableLine:
		return t.Lines
	case TablePolygon:
		return t.Polygons
	}
	return nil
}

// Len returns the total number of rows
func (t *Tables) Len() int {
	return len(t.Points) + len(t.Lines) + len(t.Polygons) + len(t.Ways) + len(t.Rels)
}

// TableSource fetches the rows intersecting a top-level tile
type TableSource interface {
	Tables(ctx context.Context, top coord.Coord) (*Tables, error)
}

// Feature is a decoded feature row
type Feature struct {
	ID       int64
	Source   string
	Shape    ShapeType
	Geometry orb.Geometry
	Bound    orb.Bound
	Props    map[string]any
}

// Way is a row of the ways table with decoded tags
type Way struct {
	ID    int64
	Nodes []int64
	Tags  osm.Tags
}

// Relation is a decoded rels row
type Relation struct {
	ID      int64
	Tags    osm.Tags
	NodeIDs []int64
	WayIDs  []int64
	RelIDs  []int64
}

// NewRelation splits the parts of a rels row at its offsets.
func NewRelation(row RelRow) (*Relation, error) {
	if row.WayOff < 0 || row.WayOff > row.RelOff || row.RelOff > len(row.Parts) {
		return nil, fmt.Errorf("relation %d: bad offsets way=%d rel=%d parts=%d",
			row.ID, row.WayOff, row.RelOff, len(row.Parts))
	}
	tags, err := Deassoc(row.Tags)
	if err != nil {
		return nil, fmt.Errorf("relation %d: %w", row.ID, err)
	}
	return &Relation{
		ID:      row.ID,
		Tags:    tags,
		NodeIDs: row.Parts[:row.WayOff],
		WayIDs:  row.Parts[row.WayOff:row.RelOff],
		RelIDs:  row.Parts[row.RelOff:],
	}, nil
}

// Deassoc decodes a flat key, value, key, value list into tags.
func Deassoc(flat []string) (osm.Tags, error) {
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd number of tag entries: %d", len(flat))
	}
	tags := make(osm.Tags, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		tags = append(tags, osm.Tag{Key: flat[i], Value: flat[i+1]})
	}
	return tags, nil
}

// Assoc is the inverse of Deassoc.
func Assoc(tags osm.Tags) []string {
	flat := make([]string, 0, len(tags)*2)
	for _, t := range tags {
		flat = append(flat, t.Key, t.Value)
	}
	return flat
}

func propString(props map[string]any, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}
