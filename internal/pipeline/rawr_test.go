package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
	"github.com/wegman-software/tilequeue-go/internal/store"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

func c(z, x, y int) coord.Coord { return coord.New(z, x, y) }

// fakeSource serves the same tables for every top tile
type fakeSource struct {
	tables *rawr.Tables
	err    error
	calls  atomic.Int32
	tops   []coord.Coord
}

func (s *fakeSource) Tables(_ context.Context, top coord.Coord) (*rawr.Tables, error) {
	s.calls.Add(1)
	s.tops = append(s.tops, top)
	if s.err != nil {
		return nil, s.err
	}
	return s.tables, nil
}

// cafeTables holds one point at the center of 12/1/1
func cafeTables() *rawr.Tables {
	return &rawr.Tables{
		Points: []rawr.FeatureRow{{
			ID:       42,
			Geometry: wkb.MustMarshal(coord.Bounds(coord.New(12, 1, 1)).Center()),
			Props:    map[string]any{"name": "Cafe", "amenity": "cafe"},
		}},
	}
}

// countingQueue records the size of each batch sent
type countingQueue struct {
	*queue.MemoryQueue
	batches []int
}

func (q *countingQueue) EnqueueBatch(ctx context.Context, payloads []string) error {
	q.batches = append(q.batches, len(payloads))
	return q.MemoryQueue.EnqueueBatch(ctx, payloads)
}

func readPayloads(t *testing.T, q queue.Queue) []string {
	t.Helper()
	msgs, err := q.Read(context.Background(), 100)
	require.NoError(t, err)
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Payload
	}
	return out
}

func observe(t *testing.T) *observer.ObservedLogs {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(logger.Replace(zap.New(core)))
	return logs
}

func TestToMetatile(t *testing.T) {
	tests := []struct {
		in   coord.Coord
		want coord.Coord
	}{
		{c(16, 1000, 2000), c(14, 250, 500)},
		{c(18, 4000, 8000), c(14, 250, 500)},
		{c(1, 1, 0), c(0, 0, 0)},
		{c(2, 3, 3), c(0, 0, 0)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToMetatile(tt.in, 2, 16), tt.in.String())
	}
}

func TestGroup(t *testing.T) {
	groups := Group([]coord.Coord{
		c(11, 2047, 2047), c(12, 0, 0), c(1, 0, 0), c(10, 0, 0), c(9, 0, 0),
	}, 10)
	assert.Equal(t, [][]coord.Coord{
		{c(1, 0, 0), c(9, 0, 0)},
		{c(12, 0, 0), c(10, 0, 0)},
		{c(11, 2047, 2047)},
	}, groups)

	assert.Empty(t, Group(nil, 10))
}

func TestEnqueuerIntersectsAndGroups(t *testing.T) {
	q := queue.NewMemoryQueue()
	set := toi.NewSet(c(12, 0, 0), c(10, 0, 0), c(5, 0, 0), c(0, 0, 0), c(12, 4095, 4095))
	m := &metrics.Pipeline{}
	e := NewEnqueuer(q, toi.SetIntersector{Set: set}, 10, 1, 16, m)

	// both expired tiles of the first metatile collapse into one
	sent, err := e.Enqueue(context.Background(), []coord.Coord{
		c(13, 0, 0), c(13, 1, 1), c(13, 8191, 8191),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	assert.ElementsMatch(t, []string{
		"5/0/0,0/0/0",
		"12/0/0,10/0/0",
		"12/4095/4095",
	}, readPayloads(t, q))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.Expired)
	assert.Equal(t, int64(5), snap.TOIHits)
}

func TestEnqueuerSendsInChunks(t *testing.T) {
	q := &countingQueue{MemoryQueue: queue.NewMemoryQueue()}
	e := NewEnqueuer(q, toi.AllIntersector{}, 10, 0, 16, nil)

	var expired []coord.Coord
	for i := 0; i < 25; i++ {
		expired = append(expired, c(10, i, 0))
	}
	sent, err := e.Enqueue(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, 25, sent)
	assert.Equal(t, []int{10, 10, 5}, q.batches)
	assert.Equal(t, 25, q.Len())
}

func TestRawrGeneratorRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.FileStore{Root: t.TempDir()}
	src := &fakeSource{tables: cafeTables()}
	gen := NewRawrGenerator(src, st, "rawr")

	rows, err := gen.Generate(ctx, c(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	back, err := RawrSource{Store: st, Layer: "rawr"}.Tables(ctx, c(10, 0, 0))
	require.NoError(t, err)
	require.Len(t, back.Points, 1)
	assert.Equal(t, int64(42), back.Points[0].ID)
	assert.Equal(t, "Cafe", back.Points[0].Props["name"])

	_, err = RawrSource{Store: st, Layer: "rawr"}.Tables(ctx, c(10, 1, 0))
	assert.ErrorIs(t, err, ErrRawrMissing)

	data, err := st.ReadTile(ctx, "rawr", format.Zip, c(10, 0, 0))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

type rawrFixture struct {
	rawrQ   *queue.MemoryQueue
	renderQ *queue.MemoryQueue
	src     *fakeSource
	st      store.Store
	proc    *RawrProcessor
	metrics *metrics.Pipeline
}

func newRawrFixture(t *testing.T, set toi.Set) *rawrFixture {
	f := &rawrFixture{
		rawrQ:   queue.NewMemoryQueue(),
		renderQ: queue.NewMemoryQueue(),
		src:     &fakeSource{tables: cafeTables()},
		st:      store.FileStore{Root: t.TempDir()},
		metrics: &metrics.Pipeline{},
	}
	w := queue.NewWriter(
		map[string]queue.Queue{"render": f.renderQ},
		queue.SingleQueueMapper{QueueID: "render"},
		queue.SingleCoordMarshaller{},
		queue.NoopInFlight{},
		0,
	)
	gen := NewRawrGenerator(f.src, f.st, "rawr")
	f.proc = NewRawrProcessor(f.rawrQ, gen, toi.SetIntersector{Set: set}, w, 10, f.metrics)
	return f
}

func TestRawrProcessorGeneratesAndEnqueues(t *testing.T) {
	ctx := context.Background()
	f := newRawrFixture(t, toi.NewSet(c(12, 0, 0), c(10, 0, 0)))
	require.NoError(t, f.rawrQ.Enqueue(ctx, "12/0/0,11/0/0,10/0/0"))

	worked, err := f.proc.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	assert.Equal(t, []coord.Coord{c(10, 0, 0)}, f.src.tops)
	data, err := f.st.ReadTile(ctx, "rawr", format.Zip, c(10, 0, 0))
	require.NoError(t, err)
	assert.NotNil(t, data)

	assert.ElementsMatch(t, []string{"12/0/0", "10/0/0"}, readPayloads(t, f.renderQ))
	assert.Equal(t, 0, f.rawrQ.Pending())

	snap := f.metrics.Snapshot()
	assert.Equal(t, int64(1), snap.RawrGenerated)
	assert.Equal(t, int64(2), snap.Enqueued)
	assert.Equal(t, int64(1), snap.TOIMisses)

	worked, err = f.proc.Step(ctx)
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestRawrProcessorLowZoomSkipsGeneration(t *testing.T) {
	ctx := context.Background()
	f := newRawrFixture(t, toi.NewSet(c(5, 0, 0), c(0, 0, 0)))
	require.NoError(t, f.rawrQ.Enqueue(ctx, "5/0/0,0/0/0"))

	_, err := f.proc.Step(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.src.calls.Load())
	assert.ElementsMatch(t, []string{"5/0/0", "0/0/0"}, readPayloads(t, f.renderQ))
	assert.Equal(t, 0, f.rawrQ.Pending())
}

func TestRawrProcessorKeepsFailedMessage(t *testing.T) {
	ctx := context.Background()
	logs := observe(t)
	f := newRawrFixture(t, toi.NewSet(c(10, 0, 0)))
	f.src.err = errors.New("database down")
	require.NoError(t, f.rawrQ.Enqueue(ctx, "10/0/0"))

	worked, err := f.proc.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	assert.Equal(t, 1, f.rawrQ.Pending())
	assert.Zero(t, f.renderQ.Len())
	assert.Equal(t, int64(1), f.metrics.Snapshot().Failures)

	entries := logs.FilterMessage("Failed to generate rawr tile").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "10/0/0", entries[0].ContextMap()["coord"])
}

func TestRawrProcessorDropsBadMessages(t *testing.T) {
	ctx := context.Background()
	observe(t)
	f := newRawrFixture(t, toi.NewSet())
	require.NoError(t, f.rawrQ.EnqueueBatch(ctx, []string{"bogus", "12/0/0,12/2048/0"}))

	for i := 0; i < 2; i++ {
		_, err := f.proc.Step(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.rawrQ.Pending())
	assert.Zero(t, f.src.calls.Load())
	assert.Equal(t, int64(2), f.metrics.Snapshot().Failures)
}
