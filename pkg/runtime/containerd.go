package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	cerrdefs "github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/distribution/reference"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// ContainerdRuntime implements Runtime using containerd. Containerd has no
// volume concept, so named volumes are labeled host directories bind-mounted
// into containers, and task output goes to per-container log files.
type ContainerdRuntime struct {
	client     *containerd.Client
	namespace  string
	volumesDir string
	logsDir    string
	timeouts   Timeouts
	logger     *zap.Logger
}

// NewContainerdRuntime creates a new containerd runtime
func NewContainerdRuntime(config Config, logger *zap.Logger) (*ContainerdRuntime, error) {
	if config.Host == "" {
		config.Host = "/run/containerd/containerd.sock"
	}
	if config.Namespace == "" {
		config.Namespace = "agentdb9"
	}
	if config.DataDir == "" {
		config.DataDir = "/var/lib/wsengine"
	}
	timeouts := config.Timeouts.withDefaults()

	r := &ContainerdRuntime{
		namespace:  config.Namespace,
		volumesDir: filepath.Join(config.DataDir, "volumes"),
		logsDir:    filepath.Join(config.DataDir, "logs"),
		timeouts:   timeouts,
		logger:     logger,
	}
	for _, dir := range []string{r.volumesDir, r.logsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger.Info("Connecting to containerd",
		zap.String("socket", config.Host),
		zap.String("namespace", config.Namespace),
	)

	client, err := containerd.New(config.Host, containerd.WithTimeout(timeouts.Inspect))
	if err != nil {
		return nil, errdefs.RuntimeUnavailable("runtime.connect", "", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Inspect)
	defer cancel()
	version, err := client.Version(ctx)
	if err != nil {
		client.Close()
		return nil, errdefs.RuntimeUnavailable("runtime.connect", "", err)
	}

	logger.Info("Connected to containerd",
		zap.String("version", version.Version),
		zap.String("revision", version.Revision),
	)

	r.client = client
	return r, nil
}

// withNamespace wraps a context with the runtime namespace
func (r *ContainerdRuntime) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Name returns the backend name
func (r *ContainerdRuntime) Name() string { return BackendContainerd }

// Close closes the containerd client
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if containerd is responsive
func (r *ContainerdRuntime) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Inspect)
	defer cancel()
	_, err := r.client.Version(ctx)
	return r.wrap("runtime.ping", "", err)
}

// CreateContainer creates a new container from the spec. The container ID is spec.Name.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Create)
	defer cancel()

	id := spec.Name
	resource := "container:" + id
	r.logger.Info("Creating container",
		zap.String("id", id),
		zap.String("image", spec.Image),
	)

	normalizedRef, err := normalizeImageRef(spec.Image)
	if err != nil {
		return "", errdefs.Invalid("container.create", "image:"+spec.Image, "%v", err)
	}

	image, err := r.client.GetImage(ctx, normalizedRef)
	if err != nil {
		r.logger.Info("Image not found, pulling...", zap.String("image", normalizedRef))
		image, err = r.client.Pull(ctx, normalizedRef, containerd.WithPullUnpack)
		if err != nil {
			return "", r.wrap("container.create", "image:"+spec.Image, err)
		}
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
	}
	if len(spec.Command) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(spec.Command...))
	}
	if env := envList(spec.Env); len(env) > 0 {
		specOpts = append(specOpts, oci.WithEnv(env))
	}
	if spec.WorkingDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(spec.WorkingDir))
	}

	if spec.Resources.CPU > 0 {
		quota, period := cpuQuota(spec.Resources.CPU)
		specOpts = append(specOpts, oci.WithCPUCFS(quota, period))
	}
	if spec.Resources.MemoryBytes > 0 {
		specOpts = append(specOpts, oci.WithMemoryLimit(uint64(spec.Resources.MemoryBytes)))
	}

	mounts := make([]specs.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		source := m.Source
		if m.Type == MountTypeVolume {
			if _, err := r.readVolume(m.Source); err != nil {
				return "", errdefs.New(errdefs.KindNotFound, "container.create", "volume:"+m.Source, err)
			}
			source = r.volumeDataPath(m.Source)
		}
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		mounts = append(mounts, specs.Mount{
			Source:      source,
			Destination: m.Target,
			Type:        "bind",
			Options:     []string{"rbind", mode},
		})
	}
	if len(mounts) > 0 {
		specOpts = append(specOpts, oci.WithMounts(mounts))
	}
	specOpts = append(specOpts, spec.Security.ociSpecOpts()...)

	labels := make(map[string]string, len(spec.Labels)+1)
	for k, v := range spec.Labels {
		labels[k] = v
	}
	if hc := spec.Healthcheck; hc != nil && len(hc.Test) > 0 {
		// no native health support; the monitor execs this command instead
		labels[labelHealthcheck] = strings.Join(hc.Test, "\x1f")
	}

	_, err = r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
		containerd.WithContainerLabels(labels),
	)
	if err != nil {
		return "", r.wrap("container.create", resource, err)
	}

	r.logger.Info("Container created successfully", zap.String("id", id))
	return id, nil
}

// StartContainer creates and starts the container task with output to a log file
func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Start)
	defer cancel()
	resource := "container:" + containerID

	r.logger.Info("Starting container", zap.String("id", containerID))

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return r.wrap("container.start", resource, err)
	}

	// a stopped task from a previous run has to go before a new one is created
	if task, err := container.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err == nil && status.Status == containerd.Running {
			return nil
		}
		if _, err := task.Delete(ctx); err != nil {
			return r.wrap("container.start", resource, err)
		}
	}

	task, err := container.NewTask(ctx, cio.LogFile(r.logPath(containerID)))
	if err != nil {
		return r.wrap("container.start", resource, err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return r.wrap("container.start", resource, err)
	}

	r.logger.Info("Container started successfully",
		zap.String("id", containerID),
		zap.Uint32("pid", task.Pid()),
	)
	return nil
}

// StopContainer stops a container
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), grace+r.timeouts.Kill)
	defer cancel()
	resource := "container:" + containerID

	r.logger.Info("Stopping container",
		zap.String("id", containerID),
		zap.Duration("grace", grace),
	)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return r.wrap("container.stop", resource, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means container is not running
		return nil
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return r.wrap("container.stop", resource, err)
	}

	if err := task.Kill(ctx, syscall.SIGTERM); err != nil && !cerrdefs.IsNotFound(err) {
		return r.wrap("container.stop", resource, err)
	}

	select {
	case <-statusC:
	case <-time.After(grace):
		r.logger.Warn("Container did not stop gracefully, forcing kill",
			zap.String("id", containerID),
		)
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return r.wrap("container.stop", resource, err)
		}
		select {
		case <-statusC:
		case <-ctx.Done():
			return r.wrap("container.stop", resource, ctx.Err())
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return r.wrap("container.stop", resource, err)
	}

	r.logger.Info("Container stopped successfully", zap.String("id", containerID))
	return nil
}

// RemoveContainer deletes a container. Without force a running task is a conflict.
func (r *ContainerdRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Start)
	defer cancel()
	resource := "container:" + containerID

	r.logger.Info("Removing container",
		zap.String("id", containerID),
		zap.Bool("force", force),
	)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return r.wrap("container.remove", resource, err)
	}

	if task, err := container.Task(ctx, nil); err == nil {
		status, err := task.Status(ctx)
		if err == nil && status.Status == containerd.Running {
			if !force {
				return errdefs.Conflict("container.remove", resource, "container is running")
			}
			statusC, err := task.Wait(ctx)
			if err == nil {
				task.Kill(ctx, syscall.SIGKILL)
				select {
				case <-statusC:
				case <-ctx.Done():
				}
			}
		}
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return r.wrap("container.remove", resource, err)
	}
	os.Remove(r.logPath(containerID))

	r.logger.Info("Container removed successfully", zap.String("id", containerID))
	return nil
}

// InspectContainer gets information about a container
func (r *ContainerdRuntime) InspectContainer(ctx context.Context, containerID string) (*Container, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Inspect)
	defer cancel()

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, r.wrap("container.inspect", "container:"+containerID, err)
	}
	info, err := r.containerToInfo(ctx, container)
	if err != nil {
		return nil, r.wrap("container.inspect", "container:"+containerID, err)
	}
	return info, nil
}

// ListContainers lists containers matching the filter
func (r *ContainerdRuntime) ListContainers(ctx context.Context, filter ListFilter) ([]*Container, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Inspect)
	defer cancel()

	var selectors []string
	if len(filter.Labels) > 0 {
		parts := make([]string, 0, len(filter.Labels))
		for k, v := range filter.Labels {
			parts = append(parts, fmt.Sprintf("labels.%q==%s", k, v))
		}
		selectors = append(selectors, strings.Join(parts, ","))
	}

	list, err := r.client.Containers(ctx, selectors...)
	if err != nil {
		return nil, r.wrap("container.list", "", err)
	}

	result := make([]*Container, 0, len(list))
	for _, c := range list {
		info, err := r.containerToInfo(ctx, c)
		if err != nil {
			r.logger.Warn("Failed to get container info",
				zap.String("id", c.ID()),
				zap.Error(err),
			)
			continue
		}
		if !filter.All && !info.Running() {
			continue
		}
		if filter.Volume != "" && !info.MountsVolume(filter.Volume) {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// WaitContainer blocks until the container task exits
func (r *ContainerdRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	ctx = r.withNamespace(ctx)
	resource := "container:" + containerID

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return -1, r.wrap("container.wait", resource, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return -1, r.wrap("container.wait", resource, err)
	}
	statusC, err := task.Wait(ctx)
	if err != nil {
		return -1, r.wrap("container.wait", resource, err)
	}
	select {
	case st := <-statusC:
		code, _, err := st.Result()
		if err != nil {
			return -1, r.wrap("container.wait", resource, err)
		}
		return int(code), nil
	case <-ctx.Done():
		return -1, r.wrap("container.wait", resource, ctx.Err())
	}
}

// containerToInfo converts containerd container to our Container type
func (r *ContainerdRuntime) containerToInfo(ctx context.Context, c containerd.Container) (*Container, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}

	out := &Container{
		ID:        info.ID,
		Name:      info.ID,
		Image:     info.Image,
		CreatedAt: info.CreatedAt,
		Labels:    info.Labels,
		State:     ContainerStateCreated,
		Health:    HealthNone,
	}
	if s, err := c.Spec(ctx); err == nil {
		out.Mounts = r.mountsFromSpec(s)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		// No task means container is created but not started
		return out, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		out.State = ContainerStateUnknown
		return out, nil
	}
	switch status.Status {
	case containerd.Running:
		out.State = ContainerStateRunning
	case containerd.Created:
		out.State = ContainerStateCreated
	case containerd.Stopped:
		out.State = ContainerStateStopped
		out.ExitCode = int(status.ExitStatus)
	case containerd.Paused, containerd.Pausing:
		out.State = ContainerStatePaused
	default:
		out.State = ContainerStateUnknown
	}
	return out, nil
}

// mountsFromSpec maps bind mounts under the volumes dir back to volume names
func (r *ContainerdRuntime) mountsFromSpec(s *oci.Spec) []Mount {
	var out []Mount
	for _, m := range s.Mounts {
		if m.Type != "bind" {
			continue
		}
		mt := Mount{Type: MountTypeBind, Source: m.Source, Target: m.Destination}
		for _, o := range m.Options {
			if o == "ro" {
				mt.ReadOnly = true
			}
		}
		if name, ok := r.volumeNameForPath(m.Source); ok {
			mt.Type = MountTypeVolume
			mt.Source = name
		}
		out = append(out, mt)
	}
	return out
}

// HealthcheckCommand returns the health command stored at create time
func HealthcheckCommand(labels map[string]string) []string {
	v, ok := labels[labelHealthcheck]
	if !ok || v == "" {
		return nil
	}
	return strings.Split(v, "\x1f")
}

const labelHealthcheck = "agentdb9.healthcheck"

// Exec executes a command inside a running container
func (r *ContainerdRuntime) Exec(ctx context.Context, containerID string, config ExecConfig) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(r.withNamespace(ctx), r.timeouts.Exec)
	defer cancel()
	resource := "container:" + containerID

	r.logger.Debug("Executing command in container",
		zap.String("container_id", containerID),
		zap.Strings("command", config.Command),
	)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}
	if status.Status != containerd.Running {
		return nil, errdefs.Conflict("container.exec", resource, "container is not running: %s", status.Status)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}

	pspec := spec.Process
	pspec.Args = config.Command
	pspec.Terminal = false
	if len(config.Env) > 0 {
		pspec.Env = append(pspec.Env, config.Env...)
	}
	if config.WorkingDir != "" {
		pspec.Cwd = config.WorkingDir
	}

	execID := fmt.Sprintf("exec-%d", time.Now().UnixNano())

	var stdout, stderr bytes.Buffer
	process, err := task.Exec(ctx, execID, pspec, cio.NewCreator(cio.WithStreams(nil, &stdout, &stderr)))
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}
	defer func() {
		if _, err := process.Delete(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to delete exec process",
				zap.String("exec_id", execID),
				zap.Error(err),
			)
		}
	}()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}
	if err := process.Start(ctx); err != nil {
		return nil, r.wrap("container.exec", resource, err)
	}

	var exitStatus containerd.ExitStatus
	select {
	case exitStatus = <-statusC:
	case <-ctx.Done():
		process.Kill(context.WithoutCancel(ctx), syscall.SIGKILL)
		return nil, r.wrap("container.exec", resource, ctx.Err())
	}

	// drain the IO copiers before reading the buffers
	process.IO().Wait()

	return &ExecResult{
		ExitCode: int(exitStatus.ExitCode()),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// wrap converts a containerd error into the engine's error kinds
func (r *ContainerdRuntime) wrap(op, resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.KindOf(err) != errdefs.KindUnknown:
		return errdefs.FromContext(op, resource, err)
	case cerrdefs.IsNotFound(err):
		return errdefs.New(errdefs.KindNotFound, op, resource, err)
	case cerrdefs.IsAlreadyExists(err), cerrdefs.IsFailedPrecondition(err):
		return errdefs.New(errdefs.KindConflict, op, resource, err)
	case cerrdefs.IsInvalidArgument(err):
		return errdefs.New(errdefs.KindInvalid, op, resource, err)
	case errors.Is(err, os.ErrNotExist):
		return errdefs.New(errdefs.KindNotFound, op, resource, err)
	default:
		return errdefs.RuntimeUnavailable(op, resource, err)
	}
}

func (r *ContainerdRuntime) logPath(containerID string) string {
	return filepath.Join(r.logsDir, containerID+".log")
}

// cpuQuota converts fractional cores into a CFS quota over a 100ms period
func cpuQuota(cores float64) (int64, uint64) {
	period := uint64(100000)
	return int64(cores * float64(period)), period
}

// normalizeImageRef expands short names like "busybox" to docker.io/library/busybox:latest
func normalizeImageRef(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", err
	}
	return reference.TagNameOnly(named).String(), nil
}
