package parquet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/klauspost/compress/zip"

	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// Decode reads an archive written by Encode. Missing members decode as
// empty tables.
func Decode(ctx context.Context, data []byte) (*rawr.Tables, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open rawr archive: %w", err)
	}

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	t := &rawr.Tables{}
	for _, name := range rawr.TableNames {
		f, ok := members[name+Extension]
		if !ok {
			continue
		}
		if err := readMember(ctx, f, name, t); err != nil {
			return nil, fmt.Errorf("failed to read %s table: %w", name, err)
		}
	}
	return t, nil
}

func readMember(ctx context.Context, f *zip.File, name string, t *rawr.Tables) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return err
	}

	pf, err := file.NewParquetReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pf.Close()

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	if tbl.NumRows() == 0 {
		return nil
	}

	tr := array.NewTableReader(tbl, tbl.NumRows())
	defer tr.Release()
	for tr.Next() {
		if err := appendRecord(tr.Record(), name, t); err != nil {
			return err
		}
	}
	return nil
}

func appendRecord(rec arrow.Record, name string, t *rawr.Tables) error {
	n := int(rec.NumRows())
	switch name {
	case rawr.TableWays:
		ids := rec.Column(0).(*array.Int64)
		nodes := rec.Column(1).(*array.String)
		tags := rec.Column(2).(*array.String)
		for i := 0; i < n; i++ {
			row := rawr.WayRow{ID: ids.Value(i)}
			if err := fromJSON(nodes.Value(i), &row.Nodes); err != nil {
				return fmt.Errorf("way %d nodes: %w", row.ID, err)
			}
			if err := fromJSON(tags.Value(i), &row.Tags); err != nil {
				return fmt.Errorf("way %d tags: %w", row.ID, err)
			}
			t.Ways = append(t.Ways, row)
		}
	case rawr.TableRels:
		ids := rec.Column(0).(*array.Int64)
		wayOff := rec.Column(1).(*array.Int32)
		relOff := rec.Column(2).(*array.Int32)
		parts := rec.Column(3).(*array.String)
		members := rec.Column(4).(*array.String)
		tags := rec.Column(5).(*array.String)
		for i := 0; i < n; i++ {
			row := rawr.RelRow{
				ID:     ids.Value(i),
				WayOff: int(wayOff.Value(i)),
				RelOff: int(relOff.Value(i)),
			}
			if err := fromJSON(parts.Value(i), &row.Parts); err != nil {
				return fmt.Errorf("relation %d parts: %w", row.ID, err)
			}
			if err := fromJSON(members.Value(i), &row.Members); err != nil {
				return fmt.Errorf("relation %d members: %w", row.ID, err)
			}
			if err := fromJSON(tags.Value(i), &row.Tags); err != nil {
				return fmt.Errorf("relation %d tags: %w", row.ID, err)
			}
			t.Rels = append(t.Rels, row)
		}
	default:
		ids := rec.Column(0).(*array.Int64)
		geoms := rec.Column(1).(*array.Binary)
		props := rec.Column(2).(*array.String)
		rows := make([]rawr.FeatureRow, 0, n)
		for i := 0; i < n; i++ {
			row := rawr.FeatureRow{
				ID:       ids.Value(i),
				Geometry: bytes.Clone(geoms.Value(i)),
			}
			if err := fromJSON(props.Value(i), &row.Props); err != nil {
				return fmt.Errorf("feature %d props: %w", row.ID, err)
			}
			rows = append(rows, row)
		}
		switch name {
		case rawr.TablePoint:
			t.Points = append(t.Points, rows...)
		case rawr.TableLine:
			t.Lines = append(t.Lines, rows...)
		case rawr.TablePolygon:
			t.Polygons = append(t.Polygons, rows...)
		}
	}
	return nil
}

func fromJSON(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
