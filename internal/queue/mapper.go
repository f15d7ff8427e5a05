package queue

import (
	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// CoordGroup is a set of coordinates sent as one message to one queue
type CoordGroup struct {
	Coords  []coord.Coord
	QueueID string
}

// Mapper assigns coordinates to queues and groups them into messages
type Mapper interface {
	Group(coords []coord.Coord) []CoordGroup
	QueueIDs() []string
}

// SingleQueueMapper sends every coordinate alone to one queue
type SingleQueueMapper struct {
	QueueID string
}

func (m SingleQueueMapper) Group(coords []coord.Coord) []CoordGroup {
	groups := make([]CoordGroup, len(coords))
	for i, c := range coords {
		groups[i] = CoordGroup{Coords: []coord.Coord{c}, QueueID: m.QueueID}
	}
	return groups
}

func (m SingleQueueMapper) QueueIDs() []string {
	return []string{m.QueueID}
}

// ZoomRangeSpec routes zooms in [Start, End) to a queue. With GroupByZoom
// set, coordinates at or below that zoom share a message with the others
// under the same ancestor. With InTOI set, the spec only matches coordinates
// whose tiles-of-interest membership equals *InTOI.
type ZoomRangeSpec struct {
	Start       int
	End         int
	QueueID     string
	GroupByZoom *int
	InTOI       *bool
}

func (s ZoomRangeSpec) matches(c coord.Coord, inTOI func(coord.Coord) bool) bool {
	if c.Zoom < s.Start || c.Zoom >= s.End {
		return false
	}
	if s.InTOI != nil {
		return inTOI != nil && inTOI(c) == *s.InTOI
	}
	return true
}

// ZoomRangeMapper routes each coordinate to the first spec matching it.
// Coordinates matching no spec are dropped.
type ZoomRangeMapper struct {
	specs []ZoomRangeSpec
	inTOI func(coord.Coord) bool
}

// NewZoomRangeMapper returns a mapper trying specs in order. inTOI may be
// nil when no spec uses InTOI.
func NewZoomRangeMapper(specs []ZoomRangeSpec, inTOI func(coord.Coord) bool) *ZoomRangeMapper {
	return &ZoomRangeMapper{specs: specs, inTOI: inTOI}
}

type groupKey struct {
	spec   int
	parent coord.Coord
}

func (m *ZoomRangeMapper) Group(coords []coord.Coord) []CoordGroup {
	var groups []CoordGroup
	keyed := make(map[groupKey]int)

	for _, c := range coords {
		idx := -1
		for i, s := range m.specs {
			if s.matches(c, m.inTOI) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		spec := m.specs[idx]

		if spec.GroupByZoom == nil || c.Zoom < *spec.GroupByZoom {
			groups = append(groups, CoordGroup{Coords: []coord.Coord{c}, QueueID: spec.QueueID})
			continue
		}
		key := groupKey{spec: idx, parent: c.ZoomTo(*spec.GroupByZoom)}
		if gi, ok := keyed[key]; ok {
			groups[gi].Coords = append(groups[gi].Coords, c)
			continue
		}
		keyed[key] = len(groups)
		groups = append(groups, CoordGroup{Coords: []coord.Coord{c}, QueueID: spec.QueueID})
	}
	return groups
}

func (m *ZoomRangeMapper) QueueIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, s := range m.specs {
		if !seen[s.QueueID] {
			seen[s.QueueID] = true
			ids = append(ids, s.QueueID)
		}
	}
	return ids
}
