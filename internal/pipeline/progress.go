package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/tilequeue-go/internal/logger"
	"github.com/wegman-software/tilequeue-go/internal/metrics"
)

// Progress logs the throughput of a running stage
type Progress struct {
	stage     string
	metrics   *metrics.Pipeline
	startTime time.Time
}

// NewProgress creates a progress reporter over m
func NewProgress(stage string, m *metrics.Pipeline) *Progress {
	return &Progress{stage: stage, metrics: m, startTime: time.Now()}
}

// Report logs progress every interval until ctx is done
func (p *Progress) Report(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := p.metrics.Snapshot()
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := p.metrics.Snapshot()
			now := time.Now()
			delta := cur.Sub(last)
			if !delta.IsZero() {
				elapsed := now.Sub(lastTime).Seconds()
				logger.Get().Info("Progress",
					zap.String("stage", p.stage),
					zap.Int64("enqueued", cur.Enqueued),
					zap.Int64("rendered", cur.TilesRendered),
					zap.String("enqueue_rate", FormatThroughput(rate(delta.Enqueued, elapsed))),
					zap.String("render_rate", FormatThroughput(rate(delta.TilesRendered+delta.TilesUnchanged, elapsed))),
					zap.Int64("failures", cur.Failures))
			}
			last, lastTime = cur, now
		}
	}
}

// LogSummary logs the totals since the reporter was created
func (p *Progress) LogSummary() {
	elapsed := time.Since(p.startTime)
	fields := append([]zap.Field{
		zap.String("stage", p.stage),
		zap.String("elapsed", FormatDuration(elapsed)),
	}, p.metrics.Snapshot().Fields()...)
	logger.Get().Info("Stage finished", fields...)
}

func rate(n int64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(n) / seconds
}

// FormatDuration formats a duration as hours, minutes and seconds
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}
