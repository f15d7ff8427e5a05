package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/tilequeue-go/internal/config"
	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/store"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

func testConfig(t *testing.T) *config.Config {
	c := config.DefaultConfig()
	dir := t.TempDir()
	c.Queues = map[string]config.QueueConfig{
		"low":  {Type: "memory"},
		"high": {Type: "file", Path: filepath.Join(dir, "high.txt")},
	}
	c.ReadOrder = []string{"high", "low"}
	c.Routes = []config.ZoomRangeConfig{
		{Start: 0, End: 10, Queue: "high"},
		{Start: 10, End: 21, Queue: "low"},
	}
	c.TOI = config.TOIConfig{Source: "file", Path: filepath.Join(dir, "toi.txt")}
	c.Store = config.StoreConfig{Type: "file", Root: filepath.Join(dir, "tiles")}
	require.NoError(t, c.Validate())
	return c
}

func TestDepsRoutesAndReadsJobs(t *testing.T) {
	ctx := context.Background()
	d := newDeps(testConfig(t))
	defer d.Close()

	w, err := d.writer(ctx, nil)
	require.NoError(t, err)
	enqueued, _, err := w.EnqueueBatch(ctx, []coord.Coord{coord.New(12, 1, 1), coord.New(3, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)

	r, err := d.reader(ctx)
	require.NoError(t, err)
	jobs, err := r.Read(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "high", jobs[0].QueueID)
	assert.Equal(t, coord.New(3, 1, 1), jobs[0].Coord)

	assert.IsType(t, &queue.FileQueue{}, d.queues["high"])
	assert.IsType(t, &queue.MemoryQueue{}, d.queues["low"])
}

func TestDepsGroupedRouteAcksOnce(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	group := 10
	c.Routes[1].GroupByZoom = &group
	require.NoError(t, c.Validate())

	d := newDeps(c)
	defer d.Close()

	w, err := d.writer(ctx, nil)
	require.NoError(t, err)
	enqueued, _, err := w.EnqueueBatch(ctx, []coord.Coord{coord.New(12, 0, 0), coord.New(12, 1, 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, enqueued)

	low := d.queues["low"].(*queue.MemoryQueue)
	assert.Equal(t, 1, low.Len())

	r, err := d.reader(ctx)
	require.NoError(t, err)
	jobs, err := r.Read(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, low.Pending())

	require.NoError(t, r.Done(ctx, jobs[0]))
	assert.Equal(t, 1, low.Pending())
	require.NoError(t, r.Done(ctx, jobs[1]))
	assert.Equal(t, 0, low.Pending())
}

func TestDepsRedisQueueAndInFlight(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c := testConfig(t)
	c.Redis.Addr = mr.Addr()
	c.InFlightKey = "inflight"
	c.Rawr.Queue = config.QueueConfig{Type: "redis", Key: "rawr"}

	d := newDeps(c)
	defer d.Close()

	q, err := d.rawrQueue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, "10/0/0"))
	items, err := mr.List("rawr")
	require.NoError(t, err)
	assert.Equal(t, []string{"10/0/0"}, items)

	require.NoError(t, d.inFlight().MarkInFlight(ctx, []coord.Coord{coord.New(3, 1, 1)}))
	cleared, err := d.redisInFlight().Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}

func TestDepsIntersector(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	require.NoError(t, toi.WriteFile(c.TOI.Path, toi.NewSet(coord.New(5, 1, 1))))

	d := newDeps(c)
	in, inTOI, cache, err := d.intersector(ctx)
	require.NoError(t, err)
	require.NotNil(t, cache)
	assert.True(t, inTOI(coord.New(5, 1, 1)))
	assert.False(t, inTOI(coord.New(5, 0, 0)))
	got, _ := in.Intersect([]coord.Coord{coord.New(5, 1, 1), coord.New(5, 0, 0)}, 0)
	assert.Equal(t, []coord.Coord{coord.New(5, 1, 1)}, got)

	c.TOI.Source = "all"
	in, inTOI, cache, err = newDeps(c).intersector(ctx)
	require.NoError(t, err)
	assert.Nil(t, cache)
	assert.True(t, inTOI(coord.New(5, 0, 0)))
	assert.IsType(t, toi.AllIntersector{}, in)
}

func TestDepsTOIStore(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	d := newDeps(c)

	st, err := d.toiStore(ctx)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, toi.NewSet(coord.New(1, 0, 0))))
	_, err = os.Stat(c.TOI.Path)
	assert.NoError(t, err)

	c.TOI = config.TOIConfig{Source: "http", URL: "http://localhost/toi.txt"}
	_, err = newDeps(c).toiStore(ctx)
	assert.ErrorContains(t, err, "read only")
}

func TestDepsStoreFormattersAndLayers(t *testing.T) {
	c := testConfig(t)
	c.Tiles.Formats = []string{"json", "mvt"}
	d := newDeps(c)

	st, err := d.store(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.FileStore{Root: c.Store.Root}, st)

	fs, err := d.formatters()
	require.NoError(t, err)
	require.Len(t, fs, 2)
	assert.Equal(t, format.JSON, fs[0].Info())
	assert.Equal(t, format.MVT, fs[1].Info())

	tc, err := d.tileConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tc.Layers)
	assert.Nil(t, d.lua)

	c.Tiles.Formats = []string{"png"}
	_, err = d.formatters()
	assert.Error(t, err)
}

func TestSeedCoords(t *testing.T) {
	bbox, err := config.ParseBBox("-180,-85,180,85")
	require.NoError(t, err)
	coords, err := seedCoords(bbox, 0, 2)
	require.NoError(t, err)
	assert.Len(t, coords, 1+4+16)
	assert.Equal(t, coord.New(0, 0, 0), coords[0])

	_, err = seedCoords(bbox, 3, 2)
	assert.Error(t, err)
}
