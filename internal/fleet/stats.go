package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openshapes/fleet/internal/runtime"
	"github.com/openshapes/fleet/pkg/api"
)

// Stats reports a point-in-time resource snapshot for an instance. Stopped
// instances report their status with zeroed usage figures rather than an
// error.
func (m *Manager) Stats(ctx context.Context, tenantID, instanceName string) (api.ResourceSnapshot, error) {
	rec, err := m.lookup(tenantID, instanceName)
	if err != nil {
		return api.ResourceSnapshot{}, err
	}

	snapshot := api.ResourceSnapshot{
		Status:      rec.Status,
		Uptime:      "unknown",
		ContainerID: rec.ContainerID,
	}

	detail, err := m.runtime.InspectContainer(ctx, rec.ContainerID)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return api.ResourceSnapshot{}, newError(KindNotFound,
				"container for instance %s no longer exists", instanceName)
		}
		m.logger.WithError(err).Errorf("Failed to inspect container %s", rec.ContainerName)
		return api.ResourceSnapshot{}, wrapError(KindRuntimeFailure, err,
			"failed to inspect instance %s", instanceName)
	}

	if !detail.Running {
		snapshot.Status = api.InstanceStopped
		return snapshot, nil
	}
	snapshot.Status = api.InstanceRunning
	snapshot.Uptime = formatUptime(detail.StartedAt, time.Now())

	sample, err := m.runtime.ContainerStats(ctx, rec.ContainerID)
	if err != nil {
		m.logger.WithError(err).Errorf("Failed to sample stats for container %s", rec.ContainerName)
		return api.ResourceSnapshot{}, wrapError(KindRuntimeFailure, err,
			"failed to read stats for instance %s", instanceName)
	}

	snapshot.CPUPercent = cpuPercent(sample)
	snapshot.MemoryUsage = formatMemory(sample.MemoryUsage)
	snapshot.MemoryPercent = memoryPercent(sample)
	return snapshot, nil
}

// cpuPercent derives a CPU utilization percentage from one cumulative sample.
// A non-positive system delta yields zero rather than a nonsense rate.
func cpuPercent(s runtime.StatsSample) float64 {
	if s.CPUTotalUsage <= s.PreCPUTotalUsage || s.SystemUsage <= s.PreSystemUsage {
		return 0
	}
	cpuDelta := float64(s.CPUTotalUsage - s.PreCPUTotalUsage)
	systemDelta := float64(s.SystemUsage - s.PreSystemUsage)
	cores := s.OnlineCPUs
	if cores <= 0 {
		cores = 1
	}
	return cpuDelta / systemDelta * float64(cores) * 100.0
}

// memoryPercent computes usage against the cgroup limit, guarding an absent
// or zero limit.
func memoryPercent(s runtime.StatsSample) float64 {
	if s.MemoryLimit == 0 {
		return 0
	}
	return float64(s.MemoryUsage) / float64(s.MemoryLimit) * 100.0
}

// formatMemory renders a byte count in KB below one MiB and in MB otherwise.
func formatMemory(bytes uint64) string {
	const mib = 1024 * 1024
	if bytes < mib {
		return fmt.Sprintf("%.2f KB", float64(bytes)/1024.0)
	}
	return fmt.Sprintf("%.2f MB", float64(bytes)/float64(mib))
}

// formatUptime renders the elapsed time since start in whole seconds, or
// "unknown" when the start time was never recorded.
func formatUptime(startedAt, now time.Time) string {
	if startedAt.IsZero() {
		return "unknown"
	}
	return now.Sub(startedAt).Truncate(time.Second).String()
}
