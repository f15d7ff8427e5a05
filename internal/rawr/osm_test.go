package rawr

import (
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

func TestDeassoc(t *testing.T) {
	tags, err := Deassoc([]string{"name", "Foo", "railway", "station"})
	require.NoError(t, err)
	assert.Equal(t, osm.Tags{{Key: "name", Value: "Foo"}, {Key: "railway", Value: "station"}}, tags)
	assert.Equal(t, "station", tags.Find("railway"))
	assert.Equal(t, []string{"name", "Foo", "railway", "station"}, Assoc(tags))

	_, err = Deassoc([]string{"name"})
	assert.Error(t, err)
}

func TestNewRelation(t *testing.T) {
	rel, err := NewRelation(RelRow{ID: 7, WayOff: 1, RelOff: 3, Parts: []int64{10, 20, 21, 30}})
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, rel.NodeIDs)
	assert.Equal(t, []int64{20, 21}, rel.WayIDs)
	assert.Equal(t, []int64{30}, rel.RelIDs)

	for _, row := range []RelRow{
		{ID: 1, WayOff: -1, RelOff: 0, Parts: []int64{1}},
		{ID: 2, WayOff: 2, RelOff: 1, Parts: []int64{1, 2}},
		{ID: 3, WayOff: 0, RelOff: 3, Parts: []int64{1, 2}},
	} {
		_, err := NewRelation(row)
		assert.Error(t, err, "relation %d", row.ID)
	}
}

func TestOSMLookups(t *testing.T) {
	c := coord.Coord{Zoom: 10, Column: 300, Row: 400}
	tables := &Tables{
		Points: []FeatureRow{{ID: 1, Geometry: mercPoint(c), Props: map[string]any{"railway": "station"}}},
		Lines:  []FeatureRow{{ID: 100, Geometry: mercPolygon(coord.Bounds(c)), Props: map[string]any{"railway": "rail"}}},
		Ways:   []WayRow{{ID: 100, Nodes: []int64{1, 2}, Tags: []string{"railway", "rail"}}},
		Rels: []RelRow{
			stopArea(2, "stop_area", []int64{1}, []int64{100}, nil),
			stopArea(3, "stop_area_group", nil, nil, []int64{2}),
			{ID: 4, Parts: []int64{2}, Tags: []string{"type", "multipolygon"}},
		},
	}
	o, err := NewOSM(tables)
	require.NoError(t, err)

	assert.Equal(t, []int64{2}, o.RelationsUsingNode(1))
	assert.Equal(t, []int64{2}, o.RelationsUsingWay(100))
	assert.ElementsMatch(t, []int64{3, 4}, o.RelationsUsingRel(2))
	assert.Equal(t, []int64{100}, o.WaysUsingNode(2))
	assert.NotNil(t, o.Node(1))
	assert.NotNil(t, o.Way(100))
	assert.Nil(t, o.Node(100))
	assert.Equal(t, "stop_area_group", o.Relation(3).Tags.Find("public_transport"))

	// relation 4 contains 2 but is not a transit relation
	assert.Equal(t, map[int64]struct{}{3: {}}, o.TransitRelations(2))
}

func TestNewOSMRejectsBadGeometry(t *testing.T) {
	_, err := NewOSM(&Tables{Points: []FeatureRow{{ID: 1, Geometry: []byte{1, 2, 3}}}})
	assert.Error(t, err)
}
