package async

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/peterbot/errors"
)

const bytesPerGB = 1024 * 1024 * 1024

// SystemMetrics is the health snapshot of the job subsystem
type SystemMetrics struct {
	JobsPending   int     `json:"jobsPending"`
	JobsRunning   int     `json:"jobsRunning"`
	JobsCompleted int     `json:"jobsCompleted"`
	JobsFailed    int     `json:"jobsFailed"`
	MemoryUsedGB  float64 `json:"memoryUsedGb"`
	MemoryTotalGB float64 `json:"memoryTotalGb"`
	MemoryPercent float64 `json:"memoryPercent"`
}

// StatusCounter reports job counts per status
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}

// getMemoryStats returns current memory usage in bytes
func getMemoryStats(ctx context.Context) (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns job counts and host memory usage.
// Memory fields stay zero when the host cannot report them; a count failure is returned.
func GetSystemMetrics(ctx context.Context, counter StatusCounter) (SystemMetrics, error) {
	var m SystemMetrics

	if total, available, err := getMemoryStats(ctx); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = (m.MemoryUsedGB / m.MemoryTotalGB) * 100
	}

	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		return m, err
	}
	m.JobsPending = counts[JobStatusPending]
	m.JobsRunning = counts[JobStatusRunning]
	m.JobsCompleted = counts[JobStatusCompleted]
	m.JobsFailed = counts[JobStatusFailed]
	return m, nil
}
