package rawr

import (
	"fmt"

	"github.com/paulmach/orb/encoding/wkb"
)

// OSM is the relation graph of one top-level tile: nodes and ways by ID
// plus the reverse "used by" indexes. It is read-only once built.
type OSM struct {
	nodes     map[int64]*Feature
	ways      map[int64]*Feature
	wayRows   map[int64]*Way
	relations map[int64]*Relation

	waysUsingNode map[int64][]int64
	relsUsingNode map[int64][]int64
	relsUsingWay  map[int64][]int64
	relsUsingRel  map[int64][]int64
}

func newOSM() *OSM {
	return &OSM{
		nodes:         make(map[int64]*Feature),
		ways:          make(map[int64]*Feature),
		wayRows:       make(map[int64]*Way),
		relations:     make(map[int64]*Relation),
		waysUsingNode: make(map[int64][]int64),
		relsUsingNode: make(map[int64][]int64),
		relsUsingWay:  make(map[int64][]int64),
		relsUsingRel:  make(map[int64][]int64),
	}
}

// decodeFeature turns a feature row into a Feature. Rows whose geometry
// does not decode are an error.
func decodeFeature(source string, row FeatureRow) (*Feature, error) {
	g, err := wkb.Unmarshal(row.Geometry)
	if err != nil {
		return nil, fmt.Errorf("%s feature %d: %w", source, row.ID, err)
	}
	props := row.Props
	if props == nil {
		props = map[string]any{}
	}
	return &Feature{
		ID:       row.ID,
		Source:   source,
		Shape:    ShapeTypeOf(g),
		Geometry: g,
		Bound:    g.Bound(),
		Props:    props,
	}, nil
}

func (o *OSM) addFeature(f *Feature) {
	// relation-derived features have no node or way to look up
	if f.ID < 0 {
		return
	}
	switch f.Shape {
	case ShapePoint:
		o.nodes[f.ID] = f
	case ShapeLine, ShapePolygon:
		o.ways[f.ID] = f
	}
}

func (o *OSM) addWay(row WayRow) error {
	tags, err := Deassoc(row.Tags)
	if err != nil {
		return fmt.Errorf("way %d: %w", row.ID, err)
	}
	o.wayRows[row.ID] = &Way{ID: row.ID, Nodes: row.Nodes, Tags: tags}
	for _, n := range row.Nodes {
		o.waysUsingNode[n] = appendUnique(o.waysUsingNode[n], row.ID)
	}
	return nil
}

func (o *OSM) addRelation(row RelRow) error {
	rel, err := NewRelation(row)
	if err != nil {
		return err
	}
	o.relations[rel.ID] = rel
	for _, n := range rel.NodeIDs {
		o.relsUsingNode[n] = appendUnique(o.relsUsingNode[n], rel.ID)
	}
	for _, w := range rel.WayIDs {
		o.relsUsingWay[w] = appendUnique(o.relsUsingWay[w], rel.ID)
	}
	for _, r := range rel.RelIDs {
		o.relsUsingRel[r] = appendUnique(o.relsUsingRel[r], rel.ID)
	}
	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}

// NewOSM builds the relation graph from every table. Tables are read in
// TableNames order so ways and relations can refer to features seen before.
func NewOSM(tables *Tables) (*OSM, error) {
	o, _, err := buildOSM(tables)
	return o, err
}

// buildOSM also returns the decoded feature rows per table.
func buildOSM(tables *Tables) (*OSM, map[string][]*Feature, error) {
	o := newOSM()
	features := make(map[string][]*Feature, 3)
	for _, name := range TableNames {
		switch name {
		case TablePoint, TableLine, TablePolygon:
			rows := tables.FeatureRows(name)
			decoded := make([]*Feature, 0, len(rows))
			for _, row := range rows {
				f, err := decodeFeature(name, row)
				if err != nil {
					return nil, nil, err
				}
				o.addFeature(f)
				decoded = append(decoded, f)
			}
			features[name] = decoded
		case TableWays:
			for _, row := range tables.Ways {
				if err := o.addWay(row); err != nil {
					return nil, nil, err
				}
			}
		case TableRels:
			for _, row := range tables.Rels {
				if err := o.addRelation(row); err != nil {
					return nil, nil, err
				}
			}
		}
	}
	return o, features, nil
}

// RelationsUsingNode returns the relations with node id as a member
func (o *OSM) RelationsUsingNode(id int64) []int64 { return o.relsUsingNode[id] }

// RelationsUsingWay returns the relations with way id as a member
func (o *OSM) RelationsUsingWay(id int64) []int64 { return o.relsUsingWay[id] }

// RelationsUsingRel returns the relations with relation id as a member
func (o *OSM) RelationsUsingRel(id int64) []int64 { return o.relsUsingRel[id] }

// WaysUsingNode returns the ways passing through node id
func (o *OSM) WaysUsingNode(id int64) []int64 { return o.waysUsingNode[id] }

// Relation returns the relation with id, or nil
func (o *OSM) Relation(id int64) *Relation { return o.relations[id] }

// Node returns the point feature with id, or nil
func (o *OSM) Node(id int64) *Feature { return o.nodes[id] }

// Way returns the line or polygon feature with id, or nil
func (o *OSM) Way(id int64) *Feature { return o.ways[id] }

// WayRow returns the ways table entry with id, or nil
func (o *OSM) WayRow(id int64) *Way { return o.wayRows[id] }

// TransitRelations returns the relations that contain relation id and are
// themselves stop areas, stop area groups or sites.
func (o *OSM) TransitRelations(id int64) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, parent := range o.relsUsingRel[id] {
		if rel := o.relations[parent]; rel != nil && isTransitRelation(rel) {
			out[parent] = struct{}{}
		}
	}
	return out
}

func isTransitRelation(rel *Relation) bool {
	switch rel.Tags.Find("public_transport") {
	case "stop_area", "stop_area_group":
		return true
	}
	switch rel.Tags.Find("type") {
	case "stop_area", "stop_area_group", "site":
		return true
	}
	return false
}
