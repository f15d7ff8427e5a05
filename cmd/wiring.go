package cmd

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/config"
	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/flex"
	"github.com/wegman-software/tilequeue-go/internal/format"
	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/middle"
	"github.com/wegman-software/tilequeue-go/internal/pipeline"
	"github.com/wegman-software/tilequeue-go/internal/queue"
	"github.com/wegman-software/tilequeue-go/internal/rawr"
	"github.com/wegman-software/tilequeue-go/internal/store"
	"github.com/wegman-software/tilequeue-go/internal/style"
	"github.com/wegman-software/tilequeue-go/internal/toi"
)

// deps builds the clients a command needs from the configuration, creating
// each at most once.
type deps struct {
	cfg *config.Config

	redis  *redis.Client
	aws    *aws.Config
	pool   *pgxpool.Pool
	queues map[string]queue.Queue
	toi    *toi.Cache
	lua    *flex.Runtime
}

func newDeps(cfg *config.Config) *deps {
	return &deps{cfg: cfg, queues: make(map[string]queue.Queue)}
}

// Close releases every client that was created
func (d *deps) Close() error {
	var err error
	for _, q := range d.queues {
		err = multierr.Append(err, q.Close())
	}
	if d.redis != nil {
		err = multierr.Append(err, d.redis.Close())
	}
	if d.pool != nil {
		d.pool.Close()
	}
	if d.lua != nil {
		d.lua.Close()
	}
	return err
}

func (d *deps) redisClient() *redis.Client {
	if d.redis == nil {
		d.redis = redis.NewClient(&redis.Options{
			Addr:     d.cfg.Redis.Addr,
			Password: d.cfg.Redis.Password,
			DB:       d.cfg.Redis.DB,
		})
	}
	return d.redis
}

func (d *deps) awsConfig(ctx context.Context) (aws.Config, error) {
	if d.aws != nil {
		return *d.aws, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if d.cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(d.cfg.AWS.Region))
	}
	ac, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	d.aws = &ac
	return ac, nil
}

func (d *deps) s3Client(ctx context.Context) (*s3.Client, error) {
	ac, err := d.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := d.cfg.AWS.Endpoint
	return s3.NewFromConfig(ac, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func (d *deps) sqsClient(ctx context.Context) (*sqs.Client, error) {
	ac, err := d.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	endpoint := d.cfg.AWS.Endpoint
	return sqs.NewFromConfig(ac, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// openQueue builds the queue qc describes
func (d *deps) openQueue(ctx context.Context, id string, qc config.QueueConfig) (queue.Queue, error) {
	if q, ok := d.queues[id]; ok {
		return q, nil
	}
	var q queue.Queue
	switch qc.Type {
	case "memory":
		q = queue.NewMemoryQueue()
	case "file":
		q = queue.NewFileQueue(qc.Path)
	case "redis":
		q = queue.NewRedisQueue(d.redisClient(), qc.Key, qc.BlockTimeout)
	case "sqs":
		client, err := d.sqsClient(ctx)
		if err != nil {
			return nil, err
		}
		opts := queue.DefaultSQSOptions()
		opts.SendTries = d.cfg.Rawr.SendTries
		q = queue.NewSQSQueue(client, qc.URL, opts)
	default:
		return nil, fmt.Errorf("queue %q: unknown type %q", id, qc.Type)
	}
	d.queues[id] = q
	return q, nil
}

// renderQueues opens every configured render queue
func (d *deps) renderQueues(ctx context.Context) (map[string]queue.Queue, error) {
	out := make(map[string]queue.Queue, len(d.cfg.Queues))
	for id, qc := range d.cfg.Queues {
		q, err := d.openQueue(ctx, id, qc)
		if err != nil {
			return nil, err
		}
		out[id] = q
	}
	return out, nil
}

func (d *deps) rawrQueue(ctx context.Context) (queue.Queue, error) {
	return d.openQueue(ctx, "rawr", d.cfg.Rawr.Queue)
}

func (d *deps) inFlight() queue.InFlightManager {
	if d.cfg.InFlightKey == "" {
		return queue.NoopInFlight{}
	}
	return d.redisInFlight()
}

func (d *deps) redisInFlight() *queue.RedisInFlight {
	return queue.NewRedisInFlight(d.redisClient(), d.cfg.InFlightKey, d.cfg.InFlightChunkSize)
}

// toiFetcher reads the tiles of interest from the configured source
func (d *deps) toiFetcher(ctx context.Context) (toi.Fetcher, error) {
	tc := d.cfg.TOI
	switch tc.Source {
	case "file":
		return toi.FileFetcher{Path: tc.Path}, nil
	case "http":
		return toi.NewHTTPFetcher(tc.URL, tc.Gzip), nil
	case "s3":
		client, err := d.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return toi.S3Fetcher{Client: client, Bucket: tc.Bucket, Key: tc.Key}, nil
	case "redis":
		return toi.RedisStore{Client: d.redisClient(), Key: tc.Key}, nil
	}
	return nil, fmt.Errorf("tiles of interest source %q cannot be fetched", tc.Source)
}

func (d *deps) toiStore(ctx context.Context) (toi.Store, error) {
	f, err := d.toiFetcher(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := f.(toi.Store)
	if !ok {
		return nil, fmt.Errorf("tiles of interest source %q is read only", d.cfg.TOI.Source)
	}
	return s, nil
}

// intersector loads the tiles of interest. With source "all" every tile is
// of interest and membership is always true. The returned cache is nil in
// that case.
func (d *deps) intersector(ctx context.Context) (toi.Intersector, func(coord.Coord) bool, *toi.Cache, error) {
	if d.cfg.TOI.Source == "all" {
		return toi.AllIntersector{}, func(coord.Coord) bool { return true }, nil, nil
	}
	if d.toi == nil {
		f, err := d.toiFetcher(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		cache := toi.NewCache(f)
		if _, err := cache.Refresh(ctx); err != nil {
			return nil, nil, nil, err
		}
		d.toi = cache
	}
	return d.toi, d.toi.Contains, d.toi, nil
}

// watch keeps cache fresh in the background when a refresh interval is set
func (d *deps) watch(ctx context.Context, cache *toi.Cache) {
	if cache == nil || d.cfg.TOI.Refresh <= 0 {
		return
	}
	go pipeline.WatchTOI(ctx, cache, d.cfg.TOI.Refresh)
}

func (d *deps) store(ctx context.Context) (store.Store, error) {
	sc := d.cfg.Store
	switch sc.Type {
	case "file":
		return store.FileStore{Root: sc.Root}, nil
	case "s3":
		client, err := d.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return store.S3Store{Client: client, Bucket: sc.Bucket, Prefix: sc.Prefix}, nil
	}
	return nil, fmt.Errorf("unknown store type %q", sc.Type)
}

func (d *deps) database(ctx context.Context) (*middle.Reader, error) {
	if d.pool == nil {
		pool, err := middle.Connect(ctx, d.cfg)
		if err != nil {
			return nil, err
		}
		d.pool = pool
		logger.Get().Info("Connected to database",
			zap.String("host", d.cfg.Database.Host),
			zap.String("database", d.cfg.Database.Name))
	}
	return middle.NewReader(d.pool, d.cfg.Database), nil
}

// writer routes render jobs to queues by zoom
func (d *deps) writer(ctx context.Context, inTOI func(coord.Coord) bool) (*queue.Writer, error) {
	queues, err := d.renderQueues(ctx)
	if err != nil {
		return nil, err
	}
	specs := make([]queue.ZoomRangeSpec, len(d.cfg.Routes))
	for i, r := range d.cfg.Routes {
		specs[i] = queue.ZoomRangeSpec{
			Start:       r.Start,
			End:         r.End,
			QueueID:     r.Queue,
			GroupByZoom: r.GroupByZoom,
			InTOI:       r.InTOI,
		}
	}
	mapper := queue.NewZoomRangeMapper(specs, inTOI)
	return queue.NewWriter(queues, mapper, d.marshaller(), d.inFlight(), d.cfg.BatchSize), nil
}

// grouped reports whether any route packs several coordinates into one
// message
func (d *deps) grouped() bool {
	for _, r := range d.cfg.Routes {
		if r.GroupByZoom != nil {
			return true
		}
	}
	return false
}

func (d *deps) marshaller() queue.Marshaller {
	if d.grouped() {
		return queue.CommaSeparatedMarshaller{}
	}
	return queue.SingleCoordMarshaller{}
}

// reader drains the render queues in read order
func (d *deps) reader(ctx context.Context) (*queue.Reader, error) {
	order := d.cfg.ReadOrder
	if len(order) == 0 {
		for id := range d.cfg.Queues {
			order = append(order, id)
		}
	}
	named := make([]queue.NamedQueue, 0, len(order))
	for _, id := range order {
		q, err := d.openQueue(ctx, id, d.cfg.Queues[id])
		if err != nil {
			return nil, err
		}
		named = append(named, queue.NamedQueue{ID: id, Queue: q})
	}
	var tracker queue.CoordTracker = queue.SingleMessageTracker{}
	if d.grouped() {
		tracker = queue.NewMultipleMessageTracker()
	}
	return queue.NewReader(named, d.marshaller(), tracker, d.inFlight(), d.cfg.MaxToRead), nil
}

// tileConfig loads the layer definitions, starting a Lua runtime when a
// layer needs one.
func (d *deps) tileConfig() (rawr.TileConfig, error) {
	sc := style.DefaultConfig()
	if path := d.cfg.Tiles.LayersFile; path != "" {
		loaded, err := style.LoadConfig(path)
		if err != nil {
			return rawr.TileConfig{}, err
		}
		sc = loaded
	}
	if sc.NeedsLua() && d.lua == nil {
		if d.cfg.Tiles.LuaFile == "" {
			return rawr.TileConfig{}, fmt.Errorf("layers call Lua functions but no lua_file is configured")
		}
		rt := flex.NewRuntime()
		if err := rt.LoadFile(d.cfg.Tiles.LuaFile); err != nil {
			rt.Close()
			return rawr.TileConfig{}, err
		}
		d.lua = rt
	}
	return sc.Build(d.lua)
}

func (d *deps) formatters() ([]format.Formatter, error) {
	out := make([]format.Formatter, 0, len(d.cfg.Tiles.Formats))
	for _, name := range d.cfg.Tiles.Formats {
		f, err := format.Lookup(name)
		if err != nil {
			return nil, err
		}
		fm, err := format.NewFormatter(f)
		if err != nil {
			return nil, err
		}
		out = append(out, fm)
	}
	return out, nil
}
