package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const samplePeriod = 200 * time.Millisecond

// memorySampler polls the child process RSS while it runs and keeps the
// peak. Best effort: a process that exits between samples simply stops
// the loop.
type memorySampler struct {
	peak atomic.Int64
}

func (m *memorySampler) watch(ctx context.Context, pid int32) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return
	}

	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := proc.MemoryInfo()
			if err != nil {
				return
			}
			rss := int64(info.RSS)
			if rss > m.peak.Load() {
				m.peak.Store(rss)
			}
		}
	}
}

func (m *memorySampler) peakBytes() int64 {
	return m.peak.Load()
}
