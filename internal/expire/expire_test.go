package expire

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

func TestExpirePoint(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		zoom     int
		want     coord.Coord
	}{
		{"London at zoom 10", -0.1278, 51.5074, 10, coord.New(10, 511, 340)},
		{"Monaco at zoom 12", 7.4246, 43.7384, 12, coord.New(12, 2132, 1493)},
		{"New York at zoom 10", -74.0060, 40.7128, 10, coord.New(10, 301, 385)},
		{"North pole clamps", 0.5, 90, 3, coord.New(3, 4, 0)},
		{"Date line clamps", 180, -10, 4, coord.New(4, 15, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(tt.zoom)
			tr.ExpirePoint(tt.lon, tt.lat)
			assert.Equal(t, []coord.Coord{tt.want}, tr.Coords())
		})
	}
}

func TestExpireBoundDeduplicates(t *testing.T) {
	tr := NewTracker(4)
	b := coord.Bounds(coord.New(3, 1, 1))
	tr.ExpireBound(b)
	tr.ExpireBound(b)
	assert.Equal(t, 4, tr.Len())
	for _, c := range tr.Coords() {
		assert.Equal(t, coord.New(3, 1, 1), c.Parent())
	}

	tr.Reset()
	assert.Zero(t, tr.Len())
}

const sampleChange = `<?xml version="1.0" encoding="UTF-8"?>
<osmChange version="0.6" generator="test">
  <create>
    <node id="1" version="1" lat="51.5074" lon="-0.1278"/>
  </create>
  <modify>
    <node id="2" version="3" lat="40.7128" lon="-74.0060">
      <tag k="amenity" v="cafe"/>
    </node>
    <way id="10" version="2">
      <nd ref="1"/>
      <nd ref="2"/>
    </way>
  </modify>
  <delete>
    <node id="3" version="4" lat="51.5075" lon="-0.1279"/>
    <relation id="20" version="1"/>
  </delete>
</osmChange>`

func TestExpireChange(t *testing.T) {
	tr := NewTracker(10)
	stats, err := tr.ExpireChange(context.Background(), strings.NewReader(sampleChange))
	require.NoError(t, err)

	assert.Equal(t, ChangeStats{Nodes: 3, Ways: 1, Relations: 1, Located: 3}, stats)
	assert.ElementsMatch(t, []coord.Coord{coord.New(10, 511, 340), coord.New(10, 301, 385)}, tr.Coords())
}

func TestExpireChangeFileGzipAndWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000.osc.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sampleChange))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	tr := NewTracker(10)
	_, err = tr.ExpireChangeFile(context.Background(), path)
	require.NoError(t, err)

	out := filepath.Join(dir, "expired.txt")
	require.NoError(t, tr.WriteFile(out))
	set, err := toi.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(coord.New(10, 511, 340)))
}

func TestExpireChangeMissingFile(t *testing.T) {
	_, err := NewTracker(10).ExpireChangeFile(context.Background(), filepath.Join(t.TempDir(), "nope.osc"))
	assert.Error(t, err)
}
