package controlplane

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats describes the daemon process serving the API.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	NumThreads int32   `json:"numThreads"`
	// resident set size in bytes
	RSS uint64 `json:"rss"`
	// milliseconds since the process started
	Uptime int64 `json:"uptime"`
}

// SelfStats reads the stats of the current process. Fields the platform
// cannot report are left zero.
func SelfStats(ctx context.Context) (*ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process stats: %w", err)
	}

	stats := &ProcessStats{PID: p.Pid}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = n
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSS = mem.RSS
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		stats.Uptime = time.Now().UnixMilli() - created
	}
	return stats, nil
}
