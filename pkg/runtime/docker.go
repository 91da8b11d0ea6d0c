package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	dockererrdefs "github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// DockerRuntime implements Runtime against the Docker Engine API
type DockerRuntime struct {
	client   *client.Client
	timeouts Timeouts
	logger   *zap.Logger
}

// NewDockerRuntime connects to the Docker engine and verifies it answers
func NewDockerRuntime(config Config, logger *zap.Logger) (*DockerRuntime, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if config.Host != "" {
		opts = append(opts, client.WithHost(config.Host))
	}

	logger.Info("Connecting to docker", zap.String("host", config.Host))

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errdefs.RuntimeUnavailable("runtime.connect", "", err)
	}

	r := &DockerRuntime{
		client:   cli,
		timeouts: config.Timeouts.withDefaults(),
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeouts.Inspect)
	defer cancel()
	ping, err := cli.Ping(ctx)
	if err != nil {
		cli.Close()
		return nil, errdefs.RuntimeUnavailable("runtime.connect", "", err)
	}

	logger.Info("Connected to docker",
		zap.String("api_version", ping.APIVersion),
		zap.String("os_type", ping.OSType),
	)

	return r, nil
}

// Name returns the backend name
func (r *DockerRuntime) Name() string { return BackendDocker }

// Ping checks if the engine is responsive
func (r *DockerRuntime) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Inspect)
	defer cancel()
	_, err := r.client.Ping(ctx)
	return r.wrap("runtime.ping", "", err)
}

// Close releases the client connection
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// CreateContainer creates a container, pulling the image when it is missing
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Create)
	defer cancel()

	r.logger.Info("Creating container",
		zap.String("name", spec.Name),
		zap.String("image", spec.Image),
	)

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		Env:        envList(spec.Env),
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
	}
	if hc := spec.Healthcheck; hc != nil && len(hc.Test) > 0 {
		cfg.Healthcheck = &container.HealthConfig{
			Test:     append([]string{"CMD"}, hc.Test...),
			Interval: hc.Interval,
			Timeout:  hc.Timeout,
			Retries:  hc.Retries,
		}
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.Resources.CPU * 1e9),
			Memory:   spec.Resources.MemoryBytes,
		},
	}
	hostCfg.SecurityOpt, hostCfg.CapDrop = spec.Security.dockerSecurityOpts()
	for _, m := range spec.Mounts {
		mt := mount.TypeVolume
		if m.Type == MountTypeBind {
			mt = mount.TypeBind
		}
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mt,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil && dockererrdefs.IsNotFound(err) {
		r.logger.Info("Image not found, pulling...", zap.String("image", spec.Image))
		if err := r.pullImage(ctx, spec.Image); err != nil {
			return "", r.wrap("container.create", "image:"+spec.Image, err)
		}
		resp, err = r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	}
	if err != nil {
		return "", r.wrap("container.create", "container:"+spec.Name, err)
	}

	for _, w := range resp.Warnings {
		r.logger.Warn("Container create warning", zap.String("name", spec.Name), zap.String("warning", w))
	}

	r.logger.Info("Container created successfully",
		zap.String("name", spec.Name),
		zap.String("container_id", resp.ID),
	)
	return resp.ID, nil
}

func (r *DockerRuntime) pullImage(ctx context.Context, ref string) error {
	rc, err := r.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// the pull only completes once the progress stream is drained
	_, err = io.Copy(io.Discard, rc)
	return err
}

// StartContainer starts a created or stopped container
func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Start)
	defer cancel()

	r.logger.Info("Starting container", zap.String("container_id", containerID))
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return r.wrap("container.start", "container:"+containerID, err)
	}
	return nil
}

// StopContainer sends SIGTERM and kills after grace
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string, grace time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, grace+r.timeouts.Kill)
	defer cancel()

	r.logger.Info("Stopping container",
		zap.String("container_id", containerID),
		zap.Duration("grace", grace),
	)

	secs := int(grace.Seconds())
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}); err != nil {
		return r.wrap("container.stop", "container:"+containerID, err)
	}
	return nil
}

// RemoveContainer deletes a container
func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Start)
	defer cancel()

	r.logger.Info("Removing container",
		zap.String("container_id", containerID),
		zap.Bool("force", force),
	)
	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	return r.wrap("container.remove", "container:"+containerID, err)
}

// InspectContainer returns the current state of a container
func (r *DockerRuntime) InspectContainer(ctx context.Context, containerID string) (*Container, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Inspect)
	defer cancel()

	info, err := r.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, r.wrap("container.inspect", "container:"+containerID, err)
	}
	return inspectToContainer(info), nil
}

// ListContainers lists containers matching the filter
func (r *DockerRuntime) ListContainers(ctx context.Context, filter ListFilter) ([]*Container, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Inspect)
	defer cancel()

	args := filters.NewArgs()
	for k, v := range filter.Labels {
		args.Add("label", k+"="+v)
	}
	if filter.Volume != "" {
		args.Add("volume", filter.Volume)
	}

	list, err := r.client.ContainerList(ctx, container.ListOptions{All: filter.All, Filters: args})
	if err != nil {
		return nil, r.wrap("container.list", "", err)
	}

	result := make([]*Container, 0, len(list))
	for _, c := range list {
		result = append(result, summaryToContainer(c))
	}
	return result, nil
}

// WaitContainer blocks until the container exits and returns its exit code
func (r *DockerRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	statusC, errC := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case st := <-statusC:
		if st.Error != nil && st.Error.Message != "" {
			return int(st.StatusCode), errdefs.RuntimeUnavailable("container.wait", "container:"+containerID,
				fmt.Errorf("%s", st.Error.Message))
		}
		return int(st.StatusCode), nil
	case err := <-errC:
		return -1, r.wrap("container.wait", "container:"+containerID, err)
	case <-ctx.Done():
		return -1, r.wrap("container.wait", "container:"+containerID, ctx.Err())
	}
}

// ContainerLogs returns the last tail lines of output; tail <= 0 returns everything
func (r *DockerRuntime) ContainerLogs(ctx context.Context, containerID string, tail int) ([]LogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Logs)
	defer cancel()

	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "all"}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}

	rc, err := r.client.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return nil, r.wrap("container.logs", "container:"+containerID, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return nil, r.wrap("container.logs", "container:"+containerID, err)
	}

	entries := splitLines("stdout", stdout.String())
	entries = append(entries, splitLines("stderr", stderr.String())...)
	return lastLines(entries, tail), nil
}

// ContainerStats takes one stats sample
func (r *DockerRuntime) ContainerStats(ctx context.Context, containerID string) (*ContainerStats, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Stats)
	defer cancel()

	resp, err := r.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		return nil, r.wrap("container.stats", "container:"+containerID, err)
	}
	defer resp.Body.Close()

	var raw dockerStats
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, r.wrap("container.stats", "container:"+containerID, err)
	}
	return raw.toStats(), nil
}

// Exec runs a command inside a running container and collects its output
func (r *DockerRuntime) Exec(ctx context.Context, containerID string, config ExecConfig) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Exec)
	defer cancel()

	r.logger.Debug("Executing command in container",
		zap.String("container_id", containerID),
		zap.Strings("command", config.Command),
	)

	created, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          config.Command,
		Env:          config.Env,
		WorkingDir:   config.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, r.wrap("container.exec", "container:"+containerID, err)
	}

	attach, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, r.wrap("container.exec", "container:"+containerID, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return nil, r.wrap("container.exec", "container:"+containerID, err)
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, r.wrap("container.exec", "container:"+containerID, err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}, nil
}

// CreateVolume creates a local volume; creating an existing name is a no-op in docker
func (r *DockerRuntime) CreateVolume(ctx context.Context, spec VolumeSpec) (*Volume, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Create)
	defer cancel()

	r.logger.Info("Creating volume", zap.String("volume", spec.Name))
	v, err := r.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   spec.Name,
		Driver: "local",
		Labels: spec.Labels,
	})
	if err != nil {
		return nil, r.wrap("volume.create", "volume:"+spec.Name, err)
	}
	return toVolume(&v), nil
}

// InspectVolume returns volume metadata
func (r *DockerRuntime) InspectVolume(ctx context.Context, name string) (*Volume, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Inspect)
	defer cancel()

	v, err := r.client.VolumeInspect(ctx, name)
	if err != nil {
		return nil, r.wrap("volume.inspect", "volume:"+name, err)
	}
	return toVolume(&v), nil
}

// RemoveVolume deletes a volume
func (r *DockerRuntime) RemoveVolume(ctx context.Context, name string, force bool) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Start)
	defer cancel()

	r.logger.Info("Removing volume", zap.String("volume", name), zap.Bool("force", force))
	return r.wrap("volume.remove", "volume:"+name, r.client.VolumeRemove(ctx, name, force))
}

// ListVolumes lists volumes carrying all of the given labels
func (r *DockerRuntime) ListVolumes(ctx context.Context, labels map[string]string) ([]*Volume, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeouts.Inspect)
	defer cancel()

	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}
	resp, err := r.client.VolumeList(ctx, volume.ListOptions{Filters: args})
	if err != nil {
		return nil, r.wrap("volume.list", "", err)
	}

	result := make([]*Volume, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		result = append(result, toVolume(v))
	}
	return result, nil
}

// wrap converts a docker client error into the engine's error kinds
func (r *DockerRuntime) wrap(op, resource string, err error) error {
	switch {
	case err == nil:
		return nil
	case errdefs.KindOf(err) != errdefs.KindUnknown:
		return errdefs.FromContext(op, resource, err)
	case dockererrdefs.IsNotFound(err):
		return errdefs.New(errdefs.KindNotFound, op, resource, err)
	case dockererrdefs.IsConflict(err):
		return errdefs.New(errdefs.KindConflict, op, resource, err)
	case dockererrdefs.IsInvalidParameter(err):
		return errdefs.New(errdefs.KindInvalid, op, resource, err)
	case dockererrdefs.IsDeadline(err):
		return errdefs.Timeout(op, resource, err)
	default:
		return errdefs.RuntimeUnavailable(op, resource, err)
	}
}

func inspectToContainer(info types.ContainerJSON) *Container {
	c := &Container{
		State:  ContainerStateUnknown,
		Health: HealthNone,
	}
	if info.ContainerJSONBase != nil {
		c.ID = info.ID
		c.Name = strings.TrimPrefix(info.Name, "/")
		c.CreatedAt = parseDockerTime(info.Created)
		if st := info.State; st != nil {
			c.State = dockerState(st.Status)
			c.ExitCode = st.ExitCode
			c.StartedAt = parseDockerTime(st.StartedAt)
			if st.Health != nil {
				c.Health = HealthStatus(st.Health.Status)
			}
		}
	}
	if info.Config != nil {
		c.Image = info.Config.Image
		c.Labels = info.Config.Labels
	}
	c.Mounts = toMounts(info.Mounts)
	if info.NetworkSettings != nil {
		for _, ep := range info.NetworkSettings.Networks {
			if ep != nil && ep.IPAddress != "" {
				c.IPAddress = ep.IPAddress
				break
			}
		}
	}
	return c
}

func summaryToContainer(s types.Container) *Container {
	c := &Container{
		ID:        s.ID,
		Image:     s.Image,
		State:     dockerState(s.State),
		Health:    HealthNone,
		Labels:    s.Labels,
		Mounts:    toMounts(s.Mounts),
		CreatedAt: time.Unix(s.Created, 0),
	}
	if len(s.Names) > 0 {
		c.Name = strings.TrimPrefix(s.Names[0], "/")
	}
	return c
}

func toMounts(points []types.MountPoint) []Mount {
	out := make([]Mount, 0, len(points))
	for _, p := range points {
		m := Mount{Target: p.Destination, ReadOnly: !p.RW}
		if p.Type == mount.TypeVolume {
			m.Type = MountTypeVolume
			m.Source = p.Name
		} else {
			m.Type = MountTypeBind
			m.Source = p.Source
		}
		out = append(out, m)
	}
	return out
}

func toVolume(v *volume.Volume) *Volume {
	return &Volume{
		Name:       v.Name,
		Driver:     v.Driver,
		Mountpoint: v.Mountpoint,
		Labels:     v.Labels,
		CreatedAt:  parseDockerTime(v.CreatedAt),
	}
}

func dockerState(s string) ContainerState {
	switch s {
	case "created":
		return ContainerStateCreated
	case "running", "restarting":
		return ContainerStateRunning
	case "paused":
		return ContainerStatePaused
	case "exited", "dead", "removing":
		return ContainerStateStopped
	default:
		return ContainerStateUnknown
	}
}

func parseDockerTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// dockerStats is the subset of the engine's stats document we read
type dockerStats struct {
	Read     time.Time `json:"read"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage  uint64   `json:"total_usage"`
			PercpuUsage []uint64 `json:"percpu_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs  uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64            `json:"usage"`
		Limit uint64            `json:"limit"`
		Stats map[string]uint64 `json:"stats"`
	} `json:"memory_stats"`
}

// toStats applies the docker CLI formula: cpu delta over system delta,
// scaled by online CPUs; page cache is excluded from memory usage.
func (s *dockerStats) toStats() *ContainerStats {
	out := &ContainerStats{
		MemoryLimit: s.MemoryStats.Limit,
		Timestamp:   s.Read,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && sysDelta > 0 {
		out.CPUPercent = cpuDelta / sysDelta * cpus * 100
	}

	usage := s.MemoryStats.Usage
	cache := s.MemoryStats.Stats["inactive_file"]
	if cache == 0 {
		cache = s.MemoryStats.Stats["cache"]
	}
	if cache < usage {
		usage -= cache
	}
	out.MemoryUsage = usage
	return out
}
