// Package middle reads the rows a RAWR tile is built from: the rendered
// point, line and polygon tables plus the middle ways and rels tables.
package middle

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/tilequeue-go/internal/config"
	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// maxRelationDepth bounds the upward walk through parent relations
const maxRelationDepth = 8

// Querier is the part of a pgx pool the reader uses
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Reader fetches the tables for one top-level tile
type Reader struct {
	db     Querier
	schema string
	prefix string
	srid   int
}

// NewReader creates a reader over the configured database
func NewReader(db Querier, cfg config.DatabaseConfig) *Reader {
	return &Reader{db: db, schema: cfg.Schema, prefix: cfg.Prefix, srid: cfg.SRID}
}

// Connect opens a pool for cfg
func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func (r *Reader) table(suffix string) string {
	return pgx.Identifier{r.schema, r.prefix + "_" + suffix}.Sanitize()
}

// featureSQL selects rows of a rendered table whose geometry touches the
// envelope ($1..$4, mercator). Relation rows get negated IDs.
func (r *Reader) featureSQL(name string) string {
	return fmt.Sprintf(`
		SELECT
			CASE WHEN osm_type = 'R' THEN -osm_id ELSE osm_id END,
			osm_type,
			tags,
			ST_AsBinary(ST_Transform(geom, 3857))
		FROM %s
		WHERE geom && ST_Transform(ST_MakeEnvelope($1, $2, $3, $4, 3857), %d)
	`, r.table(name), r.srid)
}

// featureIDs tracks which OSM objects the feature rows came from
type featureIDs struct {
	nodes, ways, rels []int64
}

// fanOut runs fetch for every table at once. A failing table does not cancel
// the others; all failures are combined.
func fanOut(ctx context.Context, names []string, fetch func(ctx context.Context, i int, name string) error) error {
	errs := make([]error, len(names))
	var g errgroup.Group
	g.SetLimit(len(names))
	for i, name := range names {
		g.Go(func() error {
			if err := fetch(ctx, i, name); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	g.Wait()
	return multierr.Combine(errs...)
}

// Tables reads every row intersecting top, padded so features just outside
// the tile are present for clipping.
func (r *Reader) Tables(ctx context.Context, top coord.Coord) (*rawr.Tables, error) {
	log := logger.Get()
	bounds := coord.PadBounds(coord.Bounds(top), rawr.WaterPadFactor)

	feats := make([][]rawr.FeatureRow, 3)
	ids := make([]featureIDs, 3)
	names := []string{rawr.TablePoint, rawr.TableLine, rawr.TablePolygon}
	err := fanOut(ctx, names, func(ctx context.Context, i int, name string) error {
		var err error
		feats[i], ids[i], err = r.fetchFeatures(ctx, name, bounds)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch features for %s: %w", top, err)
	}

	var all featureIDs
	for _, id := range ids {
		all.nodes = append(all.nodes, id.nodes...)
		all.ways = append(all.ways, id.ways...)
		all.rels = append(all.rels, id.rels...)
	}

	ways, err := r.fetchWays(ctx, all.ways)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ways for %s: %w", top, err)
	}
	rels, err := r.fetchRelations(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relations for %s: %w", top, err)
	}

	t := &rawr.Tables{
		Points:   feats[0],
		Lines:    feats[1],
		Polygons: feats[2],
	}
	for _, w := range ways {
		t.Ways = append(t.Ways, w.WayRow())
	}
	for _, rel := range rels {
		t.Rels = append(t.Rels, rel.RelRow())
	}

	log.Debug("Fetched tables",
		zap.Stringer("coord", top),
		zap.Int("points", len(t.Points)),
		zap.Int("lines", len(t.Lines)),
		zap.Int("polygons", len(t.Polygons)),
		zap.Int("ways", len(t.Ways)),
		zap.Int("rels", len(t.Rels)))
	return t, nil
}

func (r *Reader) fetchFeatures(ctx context.Context, name string, b orb.Bound) ([]rawr.FeatureRow, featureIDs, error) {
	var ids featureIDs
	rows, err := r.db.Query(ctx, r.featureSQL(name), b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	if err != nil {
		return nil, ids, err
	}
	defer rows.Close()

	var out []rawr.FeatureRow
	for rows.Next() {
		var (
			id       int64
			osmType  string
			tagsJSON []byte
			geom     []byte
		)
		if err := rows.Scan(&id, &osmType, &tagsJSON, &geom); err != nil {
			return nil, ids, err
		}
		var tags map[string]string
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &tags); err != nil {
				return nil, ids, fmt.Errorf("feature %d tags: %w", id, err)
			}
		}
		out = append(out, rawr.FeatureRow{ID: id, Geometry: geom, Props: tagsToProps(tags)})

		switch osmType {
		case "N":
			ids.nodes = append(ids.nodes, id)
		case "W":
			ids.ways = append(ids.ways, id)
		case "R":
			ids.rels = append(ids.rels, -id)
		}
	}
	return out, ids, rows.Err()
}

func (r *Reader) fetchWays(ctx context.Context, ids []int64) ([]RawWay, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT id, nodes, tags FROM %s WHERE id = ANY($1) ORDER BY id", r.table("ways")),
		ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawWay
	for rows.Next() {
		var w RawWay
		var tagsJSON []byte
		if err := rows.Scan(&w.ID, &w.Nodes, &tagsJSON); err != nil {
			return nil, err
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &w.Tags); err != nil {
				return nil, fmt.Errorf("way %d tags: %w", w.ID, err)
			}
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// fetchRelations loads the relations behind relation features, those with
// a member among the fetched nodes and ways, and then their ancestors.
func (r *Reader) fetchRelations(ctx context.Context, ids featureIDs) ([]RawRelation, error) {
	found := make(map[int64]RawRelation)

	var frontier []int64
	if len(ids.rels) > 0 {
		byID, err := r.queryRelations(ctx,
			fmt.Sprintf("SELECT id, members, tags FROM %s WHERE id = ANY($1)", r.table("rels")),
			ids.rels)
		if err != nil {
			return nil, err
		}
		frontier = addRelations(found, byID)
	}

	members, err := r.relationsWithMembers(ctx, ids.nodes, ids.ways, nil)
	if err != nil {
		return nil, err
	}
	frontier = append(frontier, addRelations(found, members)...)

	for depth := 0; len(frontier) > 0 && depth < maxRelationDepth; depth++ {
		parents, err := r.relationsWithMembers(ctx, nil, nil, frontier)
		if err != nil {
			return nil, err
		}
		frontier = addRelations(found, parents)
	}

	keys := slices.Sorted(maps.Keys(found))
	out := make([]RawRelation, len(keys))
	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

// addRelations stores rels not yet in found and returns their IDs
func addRelations(found map[int64]RawRelation, rels []RawRelation) []int64 {
	var added []int64
	for _, rel := range rels {
		if _, ok := found[rel.ID]; ok {
			continue
		}
		found[rel.ID] = rel
		added = append(added, rel.ID)
	}
	return added
}

func (r *Reader) relationsWithMembers(ctx context.Context, nodes, ways, rels []int64) ([]RawRelation, error) {
	if len(nodes) == 0 && len(ways) == 0 && len(rels) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf(`
		SELECT r.id, r.members, r.tags FROM %s r
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(r.members) m
			WHERE (m->>'Type' = 'n' AND (m->>'Ref')::bigint = ANY($1))
			   OR (m->>'Type' = 'w' AND (m->>'Ref')::bigint = ANY($2))
			   OR (m->>'Type' = 'r' AND (m->>'Ref')::bigint = ANY($3))
		)
	`, r.table("rels"))
	return r.queryRelations(ctx, sql, nonNil(nodes), nonNil(ways), nonNil(rels))
}

func (r *Reader) queryRelations(ctx context.Context, sql string, args ...any) ([]RawRelation, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawRelation
	for rows.Next() {
		var rel RawRelation
		var membersJSON, tagsJSON []byte
		if err := rows.Scan(&rel.ID, &membersJSON, &tagsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(membersJSON, &rel.Members); err != nil {
			return nil, fmt.Errorf("relation %d members: %w", rel.ID, err)
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &rel.Tags); err != nil {
				return nil, fmt.Errorf("relation %d tags: %w", rel.ID, err)
			}
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// nonNil sends an empty array rather than NULL
func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
