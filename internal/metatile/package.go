package metatile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
)

var (
	ErrLayerMismatch = errors.New("metatile: tiles have different layers")
	ErrNotDescendant = errors.New("metatile: tile is not a descendant of the metatile parent")
	ErrTooDeep       = errors.New("metatile: tile is deeper than the metatile zoom")
)

// Tile is one rendered tile, or a packaged metatile when Format is format.Zip
type Tile struct {
	Data   []byte
	Coord  coord.Coord
	Format format.Format
	Layer  string
}

// Offset is a tile position relative to the metatile parent
type Offset struct {
	Zoom   int
	Column int
	Row    int
}

func (o Offset) memberName(f format.Format) string {
	return fmt.Sprintf("%d/%d/%d.%s", o.Zoom, o.Column, o.Row, f.Extension)
}

// offsetOf returns c relative to parent.
func offsetOf(parent, c coord.Coord) (Offset, error) {
	if !parent.Contains(c) {
		return Offset{}, fmt.Errorf("%w: %s under %s", ErrNotDescendant, c, parent)
	}
	dz := c.Zoom - parent.Zoom
	return Offset{
		Zoom:   dz,
		Column: c.Column - parent.Column<<dz,
		Row:    c.Row - parent.Row<<dz,
	}, nil
}

// MakeMultiMetatile packages tiles of a single layer into one zip archive
// under parent. Members are named dz/dcol/drow.ext. A zero ts stamps members
// with the current time.
func MakeMultiMetatile(parent coord.Coord, tiles []Tile, ts time.Time) (Tile, error) {
	if len(tiles) == 0 {
		return Tile{}, errors.New("metatile: no tiles to package")
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	layer := tiles[0].Layer
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, t := range tiles {
		if t.Layer != layer {
			return Tile{}, fmt.Errorf("%w: %q and %q", ErrLayerMismatch, layer, t.Layer)
		}
		off, err := offsetOf(parent, t.Coord)
		if err != nil {
			return Tile{}, err
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     off.memberName(t.Format),
			Method:   zip.Deflate,
			Modified: ts,
		})
		if err != nil {
			return Tile{}, fmt.Errorf("failed to add %s: %w", t.Coord, err)
		}
		if _, err := w.Write(t.Data); err != nil {
			return Tile{}, fmt.Errorf("failed to write %s: %w", t.Coord, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Tile{}, fmt.Errorf("failed to finish metatile: %w", err)
	}

	return Tile{Data: buf.Bytes(), Coord: parent, Format: format.Zip, Layer: layer}, nil
}

// MakeMetatiles groups tiles by layer and packages each group under the
// common parent of its coordinates. No tile may sit more than metatileZoom
// levels below that parent.
func MakeMetatiles(metatileZoom int, tiles []Tile, ts time.Time) ([]Tile, error) {
	var layers []string
	groups := make(map[string][]Tile)
	for _, t := range tiles {
		if _, ok := groups[t.Layer]; !ok {
			layers = append(layers, t.Layer)
		}
		groups[t.Layer] = append(groups[t.Layer], t)
	}

	metatiles := make([]Tile, 0, len(layers))
	for _, layer := range layers {
		group := groups[layer]
		coords := make([]coord.Coord, len(group))
		for i, t := range group {
			coords[i] = t.Coord
		}
		parent := coord.CommonParentOf(coords)
		for _, c := range coords {
			if c.Zoom-parent.Zoom > metatileZoom {
				return nil, fmt.Errorf("%w: %s under %s exceeds %d", ErrTooDeep, c, parent, metatileZoom)
			}
		}

		mt, err := MakeMultiMetatile(parent, group, ts)
		if err != nil {
			return nil, err
		}
		metatiles = append(metatiles, mt)
	}
	return metatiles, nil
}

// Extract reads the member at offset with format f from a metatile archive.
// A missing member returns nil with no error.
func Extract(data []byte, f format.Format, offset Offset) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open metatile: %w", err)
	}
	name := offset.memberName(f)
	for _, zf := range zr.File {
		if zf.Name != name {
			continue
		}
		return readMember(zf)
	}
	return nil, nil
}

func readMember(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open member %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Equal reports whether two metatiles hold the same member names with the
// same contents. Timestamps and member order are ignored. An archive that
// cannot be read is never equal to anything.
func Equal(a, b []byte) bool {
	ma, err := members(a)
	if err != nil {
		return false
	}
	mb, err := members(b)
	if err != nil {
		return false
	}
	if len(ma) != len(mb) {
		return false
	}
	for name, da := range ma {
		db, ok := mb[name]
		if !ok || !bytes.Equal(da, db) {
			return false
		}
	}
	return true
}

func members(data []byte) (map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(zr.File))
	for _, zf := range zr.File {
		if _, dup := out[zf.Name]; dup {
			return nil, fmt.Errorf("duplicate member %s", zf.Name)
		}
		b, err := readMember(zf)
		if err != nil {
			return nil, err
		}
		out[zf.Name] = b
	}
	return out, nil
}
