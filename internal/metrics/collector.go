// Package metrics logs process and pipeline throughput at a fixed interval.
package metrics

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// SystemMetrics holds current system metrics snapshot
type SystemMetrics struct {
	CPUPercent        float64 // System-wide CPU usage (0-100%)
	ProcessCPUPercent float64 // can exceed 100% on multi-core
	ProcessRSSMB      float64
	MemoryUsedGB      float64
	MemoryPercent     float64
	DiskReadMBps      float64
	DiskWriteMBps     float64
	Timestamp         time.Time
}

// Collector periodically logs system metrics and, when attached, the
// pipeline counters accumulated since the previous tick.
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process
	pipeline *Pipeline

	lastDiskStats map[string]disk.IOCountersStat
	lastDiskTime  time.Time
	lastCounts    Snapshot

	mu          sync.RWMutex
	lastMetrics *SystemMetrics
}

// NewCollector creates a new metrics collector. p may be nil.
func NewCollector(interval time.Duration, logger *zap.Logger, p *Pipeline) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}

	proc, _ := process.NewProcess(int32(os.Getpid()))

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
		pipeline: p,
	}
}

// Start begins periodic metrics collection. Returns when context is cancelled.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logPipeline()
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// GetMetrics returns the last collected metrics
func (c *Collector) GetMetrics() *SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastMetrics
}

func (c *Collector) collect() {
	metrics := &SystemMetrics{
		Timestamp: time.Now(),
	}

	cpuPercent, err := cpu.Percent(0, false)
	if err == nil && len(cpuPercent) > 0 {
		metrics.CPUPercent = cpuPercent[0]
	}

	if c.proc != nil {
		if procCPU, err := c.proc.Percent(0); err == nil {
			metrics.ProcessCPUPercent = procCPU
		}
		if info, err := c.proc.MemoryInfo(); err == nil {
			metrics.ProcessRSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	vmem, err := mem.VirtualMemory()
	if err == nil {
		metrics.MemoryPercent = vmem.UsedPercent
		metrics.MemoryUsedGB = float64(vmem.Used) / (1024 * 1024 * 1024)
	}

	metrics.DiskReadMBps, metrics.DiskWriteMBps = c.calculateDiskRates()

	c.mu.Lock()
	c.lastMetrics = metrics
	c.mu.Unlock()

	c.logger.Info("System metrics",
		zap.Float64("sys_cpu", metrics.CPUPercent),
		zap.Float64("proc_cpu", metrics.ProcessCPUPercent),
		zap.String("proc_rss", formatFloat(metrics.ProcessRSSMB)+" MB"),
		zap.Float64("mem_pct", metrics.MemoryPercent),
		zap.String("mem_used", formatFloat(metrics.MemoryUsedGB)+" GB"),
		zap.String("disk_r", formatFloat(metrics.DiskReadMBps)+" MB/s"),
		zap.String("disk_w", formatFloat(metrics.DiskWriteMBps)+" MB/s"),
	)
	c.logPipeline()
}

// logPipeline logs counter deltas since the previous call
func (c *Collector) logPipeline() {
	if c.pipeline == nil {
		return
	}
	now := c.pipeline.Snapshot()
	delta := now.Sub(c.lastCounts)
	c.lastCounts = now
	if delta.IsZero() {
		return
	}
	c.logger.Info("Pipeline metrics", delta.Fields()...)
}

func (c *Collector) calculateDiskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}

	now := time.Now()

	if c.lastDiskStats == nil {
		c.lastDiskStats = counters
		c.lastDiskTime = now
		return 0, 0
	}

	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var totalReadDelta, totalWriteDelta uint64
	for name, counter := range counters {
		if last, ok := c.lastDiskStats[name]; ok {
			// counters can wrap
			if counter.ReadBytes >= last.ReadBytes {
				totalReadDelta += counter.ReadBytes - last.ReadBytes
			}
			if counter.WriteBytes >= last.WriteBytes {
				totalWriteDelta += counter.WriteBytes - last.WriteBytes
			}
		}
	}

	c.lastDiskStats = counters
	c.lastDiskTime = now

	readMBps = float64(totalReadDelta) / elapsed / (1024 * 1024)
	writeMBps = float64(totalWriteDelta) / elapsed / (1024 * 1024)
	return readMBps, writeMBps
}

// formatFloat formats a float with one decimal place
func formatFloat(f float64) string {
	if f < 0.1 {
		return "0.0"
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
