package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
		isSet   bool
	}{
		{"", false, false},
		{"-0.5,51.3,0.3,51.7", false, true},
		{"1,2,3", true, false},
		{"a,2,3,4", true, false},
		{"3,2,1,4", true, false},
		{"1,4,3,2", true, false},
	}

	for _, tt := range tests {
		b, err := ParseBBox(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBBox(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && b.IsSet != tt.isSet {
			t.Errorf("ParseBBox(%q).IsSet = %v, want %v", tt.input, b.IsSet, tt.isSet)
		}
	}
}

func TestBBoxMercator(t *testing.T) {
	b, _ := ParseBBox("-180,0,0,0")
	m := b.Mercator()
	if m.Min[0] > -20037508 || m.Max[0] != 0 {
		t.Errorf("unexpected mercator bound %v", m)
	}
	unset := (&BBox{}).Mercator()
	if unset.Max[1] <= 20037508 {
		t.Errorf("unset bbox should cover the world, got %v", unset)
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
database:
  host: db
  name: gis
queues:
  high:
    type: redis
    key: q:high
  low:
    type: sqs
    url: https://sqs.example.com/low
read_order: [high, low]
routes:
  - {start: 0, end: 10, queue: high, group_by_zoom: 7}
  - {start: 10, end: 17, queue: low}
tiles:
  metatile_size: 4
  tile_sizes: [512, 1024]
metrics_interval: 1m
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Database.Host != "db" || cfg.Database.Port != 5432 {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.MetatileZoom() != 2 {
		t.Errorf("MetatileZoom = %d, want 2", cfg.MetatileZoom())
	}
	if g := cfg.Routes[0].GroupByZoom; g == nil || *g != 7 {
		t.Errorf("group_by_zoom not parsed: %v", g)
	}
	if cfg.MetricsInterval != time.Minute {
		t.Errorf("MetricsInterval = %v", cfg.MetricsInterval)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"unknown queue type", func(c *Config) { c.Queues["default"] = QueueConfig{Type: "kafka"} }},
		{"file without path", func(c *Config) { c.Queues["default"] = QueueConfig{Type: "file"} }},
		{"route to missing queue", func(c *Config) { c.Routes[0].Queue = "nope" }},
		{"bad route range", func(c *Config) { c.Routes[0].End = 0 }},
		{"metatile size", func(c *Config) { c.Tiles.MetatileSize = 3 }},
		{"tile size too big", func(c *Config) { c.Tiles.TileSizes = []int{1024} }},
		{"toi source", func(c *Config) { c.TOI.Source = "ftp" }},
		{"store type", func(c *Config) { c.Store.Type = "gcs" }},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
