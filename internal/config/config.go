package config

import (
	"fmt"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/tilequeue-go/internal/coord"
)

// BBox represents a geographic bounding box
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
	IsSet                          bool
}

// Contains checks if a point is within the bounding box
func (b *BBox) Contains(lat, lon float64) bool {
	if !b.IsSet {
		return true
	}
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// Mercator returns the box in web mercator meters. An unset box covers the world.
func (b *BBox) Mercator() orb.Bound {
	if !b.IsSet {
		return orb.Bound{
			Min: orb.Point{-coord.MaxExtent, -coord.MaxExtent},
			Max: orb.Point{coord.MaxExtent, coord.MaxExtent},
		}
	}
	minX, minY := coord.LonLatToMercator(b.MinLon, b.MinLat)
	maxX, maxY := coord.LonLatToMercator(b.MaxLon, b.MaxLat)
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// ParseBBox parses a bbox string in format "minlon,minlat,maxlon,maxlat"
func ParseBBox(s string) (*BBox, error) {
	if s == "" {
		return &BBox{IsSet: false}, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 values: minlon,minlat,maxlon,maxlat")
	}

	var coords [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox coordinate %q: %w", p, err)
		}
		coords[i] = v
	}

	bbox := &BBox{
		MinLon: coords[0],
		MinLat: coords[1],
		MaxLon: coords[2],
		MaxLat: coords[3],
		IsSet:  true,
	}

	if bbox.MinLon > bbox.MaxLon {
		return nil, fmt.Errorf("minlon (%f) must be <= maxlon (%f)", bbox.MinLon, bbox.MaxLon)
	}
	if bbox.MinLat > bbox.MaxLat {
		return nil, fmt.Errorf("minlat (%f) must be <= maxlat (%f)", bbox.MinLat, bbox.MaxLat)
	}

	return bbox, nil
}

// DatabaseConfig locates the osm2pgsql-style tables
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	Prefix   string `yaml:"prefix"` // table prefix, planet_osm by default
	SRID     int    `yaml:"srid"`   // of the geometry columns
	MaxConns int    `yaml:"max_conns"`
}

// RedisConfig is shared by the redis queues, in-flight set and TOI store
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AWSConfig overrides the SDK defaults
type AWSConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// QueueConfig describes one backing queue.
type QueueConfig struct {
	Type string `yaml:"type"` // memory, file, redis or sqs
	Path string `yaml:"path"` // file
	Key  string `yaml:"key"`  // redis list key
	URL  string `yaml:"url"`  // sqs queue url
	// BlockTimeout is how long a redis read waits for work
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// ZoomRangeConfig routes coordinates in [Start, End) to a queue.
type ZoomRangeConfig struct {
	Start       int    `yaml:"start"`
	End         int    `yaml:"end"`
	Queue       string `yaml:"queue"`
	GroupByZoom *int   `yaml:"group_by_zoom,omitempty"`
	InTOI       *bool  `yaml:"in_toi,omitempty"`
}

// TOIConfig selects where the tiles of interest live
type TOIConfig struct {
	Source string `yaml:"source"` // file, http, s3 or redis
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
	Key    string `yaml:"key"`
	Gzip   bool   `yaml:"gzip"`
	// Refresh is how often long running commands reload the set
	Refresh time.Duration `yaml:"refresh"`
}

// StoreConfig selects the output store
type StoreConfig struct {
	Type   string `yaml:"type"` // file or s3
	Root   string `yaml:"root"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// RawrConfig drives the RAWR enqueue and process stages
type RawrConfig struct {
	GroupZoom int         `yaml:"group_zoom"`
	Queue     QueueConfig `yaml:"queue"`
	SendTries int         `yaml:"send_tries"`
	// Layer the RAWR payloads are stored under
	Layer string `yaml:"layer"`
}

// TilesConfig shapes the rendered metatiles
type TilesConfig struct {
	MetatileSize int      `yaml:"metatile_size"`
	MaxZoom      int      `yaml:"max_zoom"`
	TileSizes    []int    `yaml:"tile_sizes"`
	Formats      []string `yaml:"formats"`
	LayersFile   string   `yaml:"layers_file"`
	LuaFile      string   `yaml:"lua_file"`
	Layer        string   `yaml:"layer"`
}

// Config holds the global configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AWS      AWSConfig      `yaml:"aws"`

	// Queues by ID. ReadOrder lists them in the order workers drain them.
	Queues    map[string]QueueConfig `yaml:"queues"`
	ReadOrder []string               `yaml:"read_order"`
	Routes    []ZoomRangeConfig      `yaml:"routes"`

	InFlightKey       string `yaml:"inflight_key"`
	InFlightChunkSize int    `yaml:"inflight_chunk_size"`

	TOI   TOIConfig   `yaml:"toi"`
	Store StoreConfig `yaml:"store"`
	Rawr  RawrConfig  `yaml:"rawr"`
	Tiles TilesConfig `yaml:"tiles"`

	// Processing settings
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`
	MaxToRead int `yaml:"max_to_read"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "osm",
			User:     "postgres",
			Schema:   "public",
			Prefix:   "planet_osm",
			SRID:     4326,
			MaxConns: 8,
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Queues: map[string]QueueConfig{
			"default": {Type: "memory"},
		},
		ReadOrder:         []string{"default"},
		Routes:            []ZoomRangeConfig{{Start: 0, End: coord.MaxZoom + 1, Queue: "default"}},
		InFlightChunkSize: 100,
		TOI:               TOIConfig{Source: "file", Path: "toi.txt.gz", Refresh: 5 * time.Minute},
		Store:             StoreConfig{Type: "file", Root: "./tiles"},
		Rawr: RawrConfig{
			GroupZoom: 10,
			Queue:     QueueConfig{Type: "memory"},
			SendTries: 5,
			Layer:     "rawr",
		},
		Tiles: TilesConfig{
			MetatileSize: 2,
			MaxZoom:      16,
			TileSizes:    []int{512},
			Formats:      []string{"mvt"},
			Layer:        "all",
		},
		Workers:         runtime.NumCPU(),
		BatchSize:       100,
		MaxToRead:       10,
		MetricsInterval: 30 * time.Second, // Log system metrics every 30 seconds
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.Name, c.Database.User,
	)
	if c.Database.Password != "" {
		connStr += fmt.Sprintf(" password=%s", c.Database.Password)
	}
	if c.Database.MaxConns > 0 {
		connStr += fmt.Sprintf(" pool_max_conns=%d", c.Database.MaxConns)
	}
	return connStr
}

// MetatileZoom is log2 of the metatile size
func (c *Config) MetatileZoom() int {
	z := 0
	for s := c.Tiles.MetatileSize; s > 1; s >>= 1 {
		z++
	}
	return z
}

var queueTypes = []string{"memory", "file", "redis", "sqs"}

func validateQueue(id string, q QueueConfig) error {
	if !slices.Contains(queueTypes, q.Type) {
		return fmt.Errorf("queue %q: unknown type %q", id, q.Type)
	}
	switch {
	case q.Type == "file" && q.Path == "":
		return fmt.Errorf("queue %q: file queues need a path", id)
	case q.Type == "redis" && q.Key == "":
		return fmt.Errorf("queue %q: redis queues need a key", id)
	case q.Type == "sqs" && q.URL == "":
		return fmt.Errorf("queue %q: sqs queues need a url", id)
	}
	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.MaxToRead < 1 {
		return fmt.Errorf("max_to_read must be at least 1")
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	for id, q := range c.Queues {
		if err := validateQueue(id, q); err != nil {
			return err
		}
	}
	for _, id := range c.ReadOrder {
		if _, ok := c.Queues[id]; !ok {
			return fmt.Errorf("read_order names unknown queue %q", id)
		}
	}
	for i, r := range c.Routes {
		if _, ok := c.Queues[r.Queue]; !ok {
			return fmt.Errorf("route %d names unknown queue %q", i, r.Queue)
		}
		if r.Start < 0 || r.End <= r.Start || r.End > coord.MaxZoom+1 {
			return fmt.Errorf("route %d: bad zoom range [%d, %d)", i, r.Start, r.End)
		}
	}
	if err := validateQueue("rawr", c.Rawr.Queue); err != nil {
		return err
	}
	if c.Rawr.GroupZoom < 0 || c.Rawr.GroupZoom > coord.MaxZoom {
		return fmt.Errorf("rawr group zoom %d out of range", c.Rawr.GroupZoom)
	}
	if c.Rawr.SendTries < 1 {
		return fmt.Errorf("rawr send_tries must be at least 1")
	}
	if s := c.Tiles.MetatileSize; s < 1 || s&(s-1) != 0 {
		return fmt.Errorf("metatile size %d must be a power of two", s)
	}
	if c.Tiles.MaxZoom < 0 || c.Tiles.MaxZoom > coord.MaxZoom {
		return fmt.Errorf("max zoom %d out of range", c.Tiles.MaxZoom)
	}
	for _, s := range c.Tiles.TileSizes {
		if s < 256 || s&(s-1) != 0 || s > 256<<c.MetatileZoom() {
			return fmt.Errorf("tile size %d must be a power of two between 256 and %d", s, 256<<c.MetatileZoom())
		}
	}
	if len(c.Tiles.Formats) == 0 {
		return fmt.Errorf("at least one tile format is required")
	}
	switch c.TOI.Source {
	case "file", "http", "s3", "redis", "all":
	default:
		return fmt.Errorf("unknown toi source %q", c.TOI.Source)
	}
	switch c.Store.Type {
	case "file", "s3":
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	return nil
}
