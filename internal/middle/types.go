package middle

import (
	"slices"
	"strconv"

	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// RawWay represents an OSM way as stored in middle tables
type RawWay struct {
	ID    int64
	Nodes []int64 // ordered node ID array
	Tags  map[string]string
}

// RelationMember represents a member of an OSM relation
type RelationMember struct {
	Type string // "n" = node, "w" = way, "r" = relation
	Ref  int64
	Role string
}

// RawRelation represents an OSM relation as stored in middle tables
type RawRelation struct {
	ID      int64
	Members []RelationMember
	Tags    map[string]string
}

// flattenTags returns key, value pairs sorted by key
func flattenTags(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	flat := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		flat = append(flat, k, tags[k])
	}
	return flat
}

// tagsToProps widens string tags to feature properties
func tagsToProps(tags map[string]string) map[string]any {
	props := make(map[string]any, len(tags))
	for k, v := range tags {
		props[k] = v
	}
	return props
}

// WayRow converts a middle way to a rawr ways row
func (w RawWay) WayRow() rawr.WayRow {
	return rawr.WayRow{ID: w.ID, Nodes: w.Nodes, Tags: flattenTags(w.Tags)}
}

// RelRow converts a middle relation to a rawr rels row. Parts are grouped
// nodes first, then ways, then relations, keeping member order within each
// group. Members alternate type-prefixed ref and role in the same order.
func (r RawRelation) RelRow() rawr.RelRow {
	var nodes, ways, rels []RelationMember
	for _, m := range r.Members {
		switch m.Type {
		case "n":
			nodes = append(nodes, m)
		case "w":
			ways = append(ways, m)
		case "r":
			rels = append(rels, m)
		}
	}

	row := rawr.RelRow{
		ID:     r.ID,
		WayOff: len(nodes),
		RelOff: len(nodes) + len(ways),
		Tags:   flattenTags(r.Tags),
	}
	for _, group := range [][]RelationMember{nodes, ways, rels} {
		for _, m := range group {
			row.Parts = append(row.Parts, m.Ref)
			row.Members = append(row.Members, m.Type+strconv.FormatInt(m.Ref, 10), m.Role)
		}
	}
	return row
}
