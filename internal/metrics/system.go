package metrics

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemStats is a point-in-time snapshot of the broker process's
// resource usage, folded into the ServerStats record returned by
// /stats.
type SystemStats struct {
	UptimeMS     int64   `json:"uptime_ms"`
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	CPUPercent   float64 `json:"cpu_percent"`
}

// SystemSampler tracks process start time and samples gopsutil/runtime
// stats on demand: a single on-demand snapshot rather than a
// continuously smoothed background sampler, since /stats is polled
// infrequently.
type SystemSampler struct {
	startedAt time.Time
}

// NewSystemSampler creates a sampler anchored to the current time.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{startedAt: time.Now()}
}

// Sample returns a fresh SystemStats snapshot. The CPU percent sample
// blocks for up to 200ms measuring over a short window; callers on a hot
// path should not call this per-event.
func (s *SystemSampler) Sample() SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	cpuPercent := 0.0
	if percents, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	return SystemStats{
		UptimeMS:    time.Since(s.startedAt).Milliseconds(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
		CPUPercent:  cpuPercent,
	}
}
