// Package parquet encodes the RAWR tile payload: a zip archive holding one
// parquet file per source table.
package parquet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/klauspost/compress/zip"

	"github.com/wegman-software/tilequeue-go/internal/rawr"
)

// Extension of each archive member
const Extension = ".parquet"

var (
	featureSchema = arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "geom_wkb", Type: arrow.BinaryTypes.Binary, Nullable: false},
		{Name: "props", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)

	waySchema = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "nodes", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)

	relSchema = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "way_off", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "rel_off", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
		{Name: "parts", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "members", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "tags", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
)

// toJSON encodes list and map columns. A nil value is stored as an empty list.
func toJSON[T any](v []T) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func propsToJSON(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Encode writes every table of t into a zip archive
func Encode(t *rawr.Tables) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, name := range rawr.TableNames {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name + Extension, Method: zip.Store})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s member: %w", name, err)
		}
		if err := writeTable(w, name, t); err != nil {
			return nil, fmt.Errorf("failed to write %s table: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTable(w io.Writer, name string, t *rawr.Tables) error {
	switch name {
	case rawr.TableWays:
		return writeRecord(w, waySchema, func(b *array.RecordBuilder) error {
			for _, row := range t.Ways {
				b.Field(0).(*array.Int64Builder).Append(row.ID)
				b.Field(1).(*array.StringBuilder).Append(toJSON(row.Nodes))
				b.Field(2).(*array.StringBuilder).Append(toJSON(row.Tags))
			}
			return nil
		})
	case rawr.TableRels:
		return writeRecord(w, relSchema, func(b *array.RecordBuilder) error {
			for _, row := range t.Rels {
				b.Field(0).(*array.Int64Builder).Append(row.ID)
				b.Field(1).(*array.Int32Builder).Append(int32(row.WayOff))
				b.Field(2).(*array.Int32Builder).Append(int32(row.RelOff))
				b.Field(3).(*array.StringBuilder).Append(toJSON(row.Parts))
				b.Field(4).(*array.StringBuilder).Append(toJSON(row.Members))
				b.Field(5).(*array.StringBuilder).Append(toJSON(row.Tags))
			}
			return nil
		})
	default:
		rows := t.FeatureRows(name)
		return writeRecord(w, featureSchema, func(b *array.RecordBuilder) error {
			for _, row := range rows {
				props, err := propsToJSON(row.Props)
				if err != nil {
					return fmt.Errorf("feature %d: %w", row.ID, err)
				}
				b.Field(0).(*array.Int64Builder).Append(row.ID)
				b.Field(1).(*array.BinaryBuilder).Append(row.Geometry)
				b.Field(2).(*array.StringBuilder).Append(props)
			}
			return nil
		})
	}
}

// writeRecord writes a single record built by fill as one parquet file
func writeRecord(w io.Writer, schema *arrow.Schema, fill func(*array.RecordBuilder) error) error {
	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		return err
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer builder.Release()

	if err := fill(builder); err != nil {
		writer.Close()
		return err
	}

	rec := builder.NewRecord()
	defer rec.Release()
	if rec.NumRows() > 0 {
		if err := writer.Write(rec); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}
