package runtime

import (
	"bufio"
	"context"
	"os"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// ContainerLogs reads the task log file written by cio.LogFile. The file
// interleaves stdout and stderr, so every line is reported as stdout.
func (r *ContainerdRuntime) ContainerLogs(ctx context.Context, containerID string, tail int) ([]LogEntry, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Logs)
	defer cancel()
	resource := "container:" + containerID

	if _, err := r.client.LoadContainer(ctx, containerID); err != nil {
		return nil, r.wrap("container.logs", resource, err)
	}

	f, err := os.Open(r.logPath(containerID))
	if os.IsNotExist(err) {
		// never started
		return nil, nil
	}
	if err != nil {
		return nil, r.wrap("container.logs", resource, err)
	}
	defer f.Close()

	// trim while scanning so a large log is never held in full
	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil, errdefs.FromContext("container.logs", resource, ctx.Err())
		}
		entries = append(entries, LogEntry{Stream: "stdout", Line: scanner.Text()})
		if tail > 0 && len(entries) > 2*tail {
			entries = append(entries[:0], entries[len(entries)-tail:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, r.wrap("container.logs", resource, err)
	}
	return lastLines(entries, tail), nil
}
