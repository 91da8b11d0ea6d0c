package runtime

import (
	"context"
	"fmt"
	"time"

	v1 "github.com/containerd/cgroups/v3/cgroup1/stats"
	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"
	"github.com/containerd/containerd"
	"github.com/containerd/typeurl/v2"
	"go.uber.org/zap"
)

// cpuSampleGap separates the two metric reads a CPU percentage is computed from
const cpuSampleGap = 250 * time.Millisecond

type cgroupSample struct {
	cpuNanos    uint64
	memoryUsage uint64
	memoryLimit uint64
	at          time.Time
}

// ContainerStats samples the task cgroup twice and reports CPU as a
// percentage of one core over the gap.
func (r *ContainerdRuntime) ContainerStats(ctx context.Context, containerID string) (*ContainerStats, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Stats)
	defer cancel()
	resource := "container:" + containerID

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, r.wrap("container.stats", resource, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, r.wrap("container.stats", resource, err)
	}

	first, err := r.sample(ctx, task)
	if err != nil {
		return nil, r.wrap("container.stats", resource, err)
	}
	select {
	case <-time.After(cpuSampleGap):
	case <-ctx.Done():
		return nil, r.wrap("container.stats", resource, ctx.Err())
	}
	second, err := r.sample(ctx, task)
	if err != nil {
		return nil, r.wrap("container.stats", resource, err)
	}

	stats := &ContainerStats{
		MemoryUsage: second.memoryUsage,
		MemoryLimit: second.memoryLimit,
		Timestamp:   second.at,
	}
	if elapsed := second.at.Sub(first.at); elapsed > 0 && second.cpuNanos > first.cpuNanos {
		stats.CPUPercent = float64(second.cpuNanos-first.cpuNanos) / float64(elapsed.Nanoseconds()) * 100
	}

	r.logger.Debug("Sampled container stats",
		zap.String("container", containerID),
		zap.Float64("cpu_percent", stats.CPUPercent),
		zap.Uint64("memory_usage", stats.MemoryUsage),
	)
	return stats, nil
}

func (r *ContainerdRuntime) sample(ctx context.Context, task containerd.Task) (*cgroupSample, error) {
	metric, err := task.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}

	switch m := data.(type) {
	case *v2.Metrics:
		return parseV2Metrics(m), nil
	case *v1.Metrics:
		return parseV1Metrics(m), nil
	default:
		return nil, fmt.Errorf("unsupported metrics type %T", data)
	}
}

// parseV1Metrics parses cgroups v1 metrics
func parseV1Metrics(m *v1.Metrics) *cgroupSample {
	s := &cgroupSample{at: time.Now()}
	if m.CPU != nil && m.CPU.Usage != nil {
		s.cpuNanos = m.CPU.Usage.Total
	}
	if m.Memory != nil && m.Memory.Usage != nil {
		s.memoryUsage = m.Memory.Usage.Usage
		s.memoryLimit = m.Memory.Usage.Limit
		// page cache is reclaimable and not reported as usage
		if m.Memory.TotalInactiveFile < s.memoryUsage {
			s.memoryUsage -= m.Memory.TotalInactiveFile
		}
	}
	return s
}

// parseV2Metrics parses cgroups v2 metrics
func parseV2Metrics(m *v2.Metrics) *cgroupSample {
	s := &cgroupSample{at: time.Now()}
	if m.CPU != nil {
		s.cpuNanos = m.CPU.UsageUsec * 1000 // Convert microseconds to nanoseconds
	}
	if m.Memory != nil {
		s.memoryUsage = m.Memory.Usage
		s.memoryLimit = m.Memory.UsageLimit
		if m.Memory.InactiveFile < s.memoryUsage {
			s.memoryUsage -= m.Memory.InactiveFile
		}
	}
	return s
}
