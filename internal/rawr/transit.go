package rawr

import (
	"slices"
	"sort"
	"strings"
)

// RecurseUpTransitRelations walks up from each seed through the transit
// relations containing it. It returns every relation reached and the root:
// the smallest ID among the relations found at the greatest depth from any
// seed. The root is 0 when there are no seeds.
func RecurseUpTransitRelations(o *OSM, seeds []int64) (map[int64]struct{}, int64) {
	ordered := append([]int64(nil), seeds...)
	slices.Sort(ordered)

	all := make(map[int64]struct{})
	var roots []int64
	rootLevel := -1

	for _, seed := range ordered {
		seen := map[int64]struct{}{seed: {}}
		frontier := []int64{seed}
		for level := 0; len(frontier) > 0; level++ {
			for _, id := range frontier {
				all[id] = struct{}{}
			}
			if level > rootLevel {
				roots = append(roots[:0], frontier...)
				rootLevel = level
			} else if level == rootLevel {
				roots = append(roots, frontier...)
			}

			var next []int64
			for _, id := range frontier {
				for parent := range o.TransitRelations(id) {
					if _, ok := seen[parent]; ok {
						continue
					}
					seen[parent] = struct{}{}
					next = append(next, parent)
				}
			}
			frontier = next
		}
	}

	if len(roots) == 0 {
		return all, 0
	}
	return all, slices.Min(roots)
}

// TransitResult summarises the transit routes serving a station
type TransitResult struct {
	Score           int
	RootRelationID  int64
	TrainRoutes     []string
	SubwayRoutes    []string
	LightRailRoutes []string
	TramRoutes      []string
	RailwayRoutes   []string
}

func isStationOrStop(props map[string]any) bool {
	switch propString(props, "railway") {
	case "station", "stop", "tram_stop":
		return true
	}
	switch propString(props, "public_transport") {
	case "stop", "stop_position", "tram_stop":
		return true
	}
	return false
}

func isRailLine(props map[string]any) bool {
	switch propString(props, "railway") {
	case "rail", "subway", "light_rail", "tram", "narrow_gauge", "monorail", "funicular":
		return true
	}
	return false
}

// TransitRoutesAndScore finds the train, subway, light rail, tram and
// railway routes serving the station at node, way or rel (zero means unset)
// and scores the station by them.
func TransitRoutesAndScore(o *OSM, node, way, rel int64) TransitResult {
	candidates := make(map[int64]struct{})
	if node != 0 {
		for _, r := range o.RelationsUsingNode(node) {
			candidates[r] = struct{}{}
		}
	}
	if way != 0 {
		for _, r := range o.RelationsUsingWay(way) {
			candidates[r] = struct{}{}
		}
	}
	if rel != 0 {
		candidates[rel] = struct{}{}
	}

	var seeds []int64
	for id := range candidates {
		if r := o.Relation(id); r != nil && isTransitRelation(r) {
			seeds = append(seeds, id)
		}
	}
	related, root := RecurseUpTransitRelations(o, seeds)

	// down from every related relation through child transit relations
	stack := make([]int64, 0, len(related))
	for id := range related {
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r := o.Relation(id)
		if r == nil {
			continue
		}
		for _, child := range r.RelIDs {
			if _, ok := related[child]; ok {
				continue
			}
			if cr := o.Relation(child); cr != nil && isTransitRelation(cr) {
				related[child] = struct{}{}
				stack = append(stack, child)
			}
		}
	}

	stopNodes := make(map[int64]struct{})
	stopWays := make(map[int64]struct{})
	if node != 0 {
		stopNodes[node] = struct{}{}
	}
	if way != 0 {
		stopWays[way] = struct{}{}
	}
	for id := range related {
		r := o.Relation(id)
		if r == nil {
			continue
		}
		for _, n := range r.NodeIDs {
			if f := o.Node(n); f != nil && isStationOrStop(f.Props) {
				stopNodes[n] = struct{}{}
			}
		}
		for _, w := range r.WayIDs {
			if f := o.Way(w); f != nil && isStationOrStop(f.Props) {
				stopWays[w] = struct{}{}
			}
		}
	}

	lines := make(map[int64]struct{})
	for n := range stopNodes {
		for _, w := range o.WaysUsingNode(n) {
			if f := o.Way(w); f != nil && (isStationOrStop(f.Props) || isRailLine(f.Props)) {
				lines[w] = struct{}{}
			}
		}
	}

	routeRels := make(map[int64]struct{})
	for n := range stopNodes {
		for _, r := range o.RelationsUsingNode(n) {
			routeRels[r] = struct{}{}
		}
	}
	for _, set := range []map[int64]struct{}{stopWays, lines} {
		for w := range set {
			for _, r := range o.RelationsUsingWay(w) {
				routeRels[r] = struct{}{}
			}
		}
	}
	for id := range related {
		for _, r := range o.RelationsUsingRel(id) {
			routeRels[r] = struct{}{}
		}
	}

	routes := map[string]map[string]struct{}{
		"train":      {},
		"subway":     {},
		"light_rail": {},
		"tram":       {},
		"railway":    {},
	}
	for id := range routeRels {
		r := o.Relation(id)
		if r == nil || r.Tags.Find("type") != "route" {
			continue
		}
		names, ok := routes[r.Tags.Find("route")]
		if !ok {
			continue
		}
		name := strings.TrimSpace(r.Tags.Find("ref"))
		if name == "" {
			name = strings.TrimSpace(r.Tags.Find("name"))
		}
		if name != "" {
			names[name] = struct{}{}
		}
	}

	result := TransitResult{
		RootRelationID:  root,
		TrainRoutes:     sortedKeys(routes["train"]),
		SubwayRoutes:    sortedKeys(routes["subway"]),
		LightRailRoutes: sortedKeys(routes["light_rail"]),
		TramRoutes:      sortedKeys(routes["tram"]),
		RailwayRoutes:   sortedKeys(routes["railway"]),
	}
	result.Score = TransitScore(len(result.TrainRoutes), len(result.SubwayRoutes),
		len(result.LightRailRoutes), len(result.TramRoutes), len(result.RailwayRoutes))
	return result
}

// TransitScore weights route counts by mode, doubling trains and metro
// lines at an interchange between the two.
func TransitScore(train, subway, lightRail, tram, railway int) int {
	bonus := 1
	if train > 0 && (subway > 0 || lightRail > 0) {
		bonus = 2
	}
	return 100*min(9, bonus*train) + 10*min(9, bonus*(subway+lightRail)) + min(9, tram+railway)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
