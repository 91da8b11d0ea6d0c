package mocks

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

// FakeRuntime is an in-memory runtime.Runtime. Volumes hold files in maps,
// and the short helper commands the engine runs (du, cat, tar, sh writes)
// are interpreted against them, so data really moves between volumes and
// backup archives on disk.
type FakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	names      map[string]string // name -> id
	volumes    map[string]*fakeVolume
	nextID     int

	calls    map[string]int
	failOnce map[string][]error
	failAll  map[string]error

	// OpDelay is slept (outside the lock) at the start of every mutating
	// container call, widening race windows in concurrency tests.
	OpDelay time.Duration

	inflight    int
	maxInflight int

	DefaultStats runtime.ContainerStats
	closed       bool
}

type fakeContainer struct {
	info  runtime.Container
	spec  runtime.ContainerSpec
	logs  []runtime.LogEntry
	done  chan struct{}
	stats *runtime.ContainerStats
}

type fakeVolume struct {
	info  runtime.Volume
	files map[string][]byte
}

var _ runtime.Runtime = (*FakeRuntime)(nil)

// NewFakeRuntime creates an empty fake engine
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*fakeContainer),
		names:      make(map[string]string),
		volumes:    make(map[string]*fakeVolume),
		calls:      make(map[string]int),
		failOnce:   make(map[string][]error),
		failAll:    make(map[string]error),
		DefaultStats: runtime.ContainerStats{
			CPUPercent:  2.5,
			MemoryUsage: 64 << 20,
			MemoryLimit: 512 << 20,
		},
	}
}

// FailNext makes the next call of op return err
func (f *FakeRuntime) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnce[op] = append(f.failOnce[op], err)
}

// FailAlways makes every call of op return err until ClearFailures
func (f *FakeRuntime) FailAlways(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll[op] = err
}

// ClearFailures removes every injected failure
func (f *FakeRuntime) ClearFailures() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOnce = make(map[string][]error)
	f.failAll = make(map[string]error)
}

// Calls returns how many times op was invoked
func (f *FakeRuntime) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// MaxInflight returns the highest number of overlapping mutating container calls seen
func (f *FakeRuntime) MaxInflight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInflight
}

// Closed reports whether Close was called
func (f *FakeRuntime) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// record counts the call and returns an injected failure; callers hold f.mu
func (f *FakeRuntime) record(op string) error {
	f.calls[op]++
	if errs := f.failOnce[op]; len(errs) > 0 {
		f.failOnce[op] = errs[1:]
		return errs[0]
	}
	return f.failAll[op]
}

// enter wraps a mutating call with the delay and in-flight accounting
func (f *FakeRuntime) enter() func() {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	delay := f.OpDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}
}

func (f *FakeRuntime) Name() string { return "fake" }

func (f *FakeRuntime) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("Ping")
}

func (f *FakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeRuntime) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateContainer"); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", errdefs.FromContext("container.create", spec.Name, err)
	}
	if spec.Name != "" {
		if _, taken := f.names[spec.Name]; taken {
			return "", errdefs.Conflict("container.create", "container:"+spec.Name, "name already in use")
		}
	}
	for _, m := range spec.Mounts {
		if m.Type == runtime.MountTypeVolume {
			if _, ok := f.volumes[m.Source]; !ok {
				// docker creates missing named volumes implicitly, unlabeled
				f.volumes[m.Source] = &fakeVolume{
					info:  runtime.Volume{Name: m.Source, Driver: "local", Labels: map[string]string{}, CreatedAt: time.Now()},
					files: make(map[string][]byte),
				}
			}
		}
	}

	f.nextID++
	id := fmt.Sprintf("c%04d", f.nextID)
	name := spec.Name
	if name == "" {
		name = id
	}
	labels := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		labels[k] = v
	}
	f.containers[id] = &fakeContainer{
		info: runtime.Container{
			ID:        id,
			Name:      name,
			Image:     spec.Image,
			State:     runtime.ContainerStateCreated,
			Health:    runtime.HealthNone,
			Labels:    labels,
			Mounts:    append([]runtime.Mount(nil), spec.Mounts...),
			CreatedAt: time.Now(),
		},
		spec: spec,
		done: make(chan struct{}),
	}
	f.names[name] = id
	return id, nil
}

// AddContainer registers a container created outside the engine
func (f *FakeRuntime) AddContainer(spec runtime.ContainerSpec, running bool) string {
	id, err := f.CreateContainer(context.Background(), spec)
	if err != nil {
		panic(err)
	}
	if running {
		if err := f.StartContainer(context.Background(), id); err != nil {
			panic(err)
		}
	}
	return id
}

func (f *FakeRuntime) StartContainer(ctx context.Context, containerID string) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("StartContainer"); err != nil {
		return err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container.start", "container:"+containerID)
	}
	if c.info.State == runtime.ContainerStateRunning {
		return nil
	}
	c.info.StartedAt = time.Now()

	if helper := f.runHelper(c); helper {
		c.info.State = runtime.ContainerStateStopped
		closeOnce(c.done)
		return nil
	}

	c.info.State = runtime.ContainerStateRunning
	c.done = make(chan struct{})
	if c.spec.Healthcheck != nil {
		c.info.Health = runtime.HealthHealthy
	}
	return nil
}

func (f *FakeRuntime) StopContainer(ctx context.Context, containerID string, grace time.Duration) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("StopContainer"); err != nil {
		return err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container.stop", "container:"+containerID)
	}
	if c.info.State == runtime.ContainerStateRunning {
		c.info.State = runtime.ContainerStateStopped
		c.info.ExitCode = 0
		closeOnce(c.done)
	}
	return nil
}

func (f *FakeRuntime) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("RemoveContainer"); err != nil {
		return err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return errdefs.NotFound("container.remove", "container:"+containerID)
	}
	if c.info.State == runtime.ContainerStateRunning && !force {
		return errdefs.Conflict("container.remove", "container:"+containerID, "container is running")
	}
	closeOnce(c.done)
	delete(f.containers, containerID)
	delete(f.names, c.info.Name)
	return nil
}

func (f *FakeRuntime) InspectContainer(ctx context.Context, containerID string) (*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("InspectContainer"); err != nil {
		return nil, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errdefs.NotFound("container.inspect", "container:"+containerID)
	}
	return copyContainer(&c.info), nil
}

func (f *FakeRuntime) ListContainers(ctx context.Context, filter runtime.ListFilter) ([]*runtime.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListContainers"); err != nil {
		return nil, err
	}
	var out []*runtime.Container
	for _, c := range f.containers {
		if !filter.All && c.info.State != runtime.ContainerStateRunning {
			continue
		}
		if !hasLabels(c.info.Labels, filter.Labels) {
			continue
		}
		if filter.Volume != "" && !c.info.MountsVolume(filter.Volume) {
			continue
		}
		out = append(out, copyContainer(&c.info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeRuntime) WaitContainer(ctx context.Context, containerID string) (int, error) {
	f.mu.Lock()
	if err := f.record("WaitContainer"); err != nil {
		f.mu.Unlock()
		return -1, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		f.mu.Unlock()
		return -1, errdefs.NotFound("container.wait", "container:"+containerID)
	}
	done := c.done
	f.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return -1, errdefs.FromContext("container.wait", "container:"+containerID, ctx.Err())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return c.info.ExitCode, nil
}

func (f *FakeRuntime) ContainerLogs(ctx context.Context, containerID string, tail int) ([]runtime.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ContainerLogs"); err != nil {
		return nil, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errdefs.NotFound("container.logs", "container:"+containerID)
	}
	logs := c.logs
	if tail > 0 && len(logs) > tail {
		logs = logs[len(logs)-tail:]
	}
	return append([]runtime.LogEntry(nil), logs...), nil
}

// AppendLog adds output lines to a container
func (f *FakeRuntime) AppendLog(containerID string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containers[containerID]
	for _, l := range lines {
		c.logs = append(c.logs, runtime.LogEntry{Stream: "stdout", Line: l})
	}
}

func (f *FakeRuntime) ContainerStats(ctx context.Context, containerID string) (*runtime.ContainerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ContainerStats"); err != nil {
		return nil, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errdefs.NotFound("container.stats", "container:"+containerID)
	}
	if c.info.State != runtime.ContainerStateRunning {
		return nil, errdefs.Conflict("container.stats", "container:"+containerID, "container is not running")
	}
	s := f.DefaultStats
	if c.stats != nil {
		s = *c.stats
	}
	s.Timestamp = time.Now()
	return &s, nil
}

func (f *FakeRuntime) Exec(ctx context.Context, containerID string, config runtime.ExecConfig) (*runtime.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("Exec"); err != nil {
		return nil, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errdefs.NotFound("container.exec", "container:"+containerID)
	}
	if c.info.State != runtime.ContainerStateRunning {
		return nil, errdefs.Conflict("container.exec", "container:"+containerID, "container is not running")
	}
	code, stdout, stderr := f.interpret(c, config.Command, config.Env)
	return &runtime.ExecResult{ExitCode: code, Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil
}

func (f *FakeRuntime) CreateVolume(ctx context.Context, spec runtime.VolumeSpec) (*runtime.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("CreateVolume"); err != nil {
		return nil, err
	}
	if v, ok := f.volumes[spec.Name]; ok {
		return copyVolume(&v.info), nil
	}
	labels := make(map[string]string, len(spec.Labels))
	for k, v := range spec.Labels {
		labels[k] = v
	}
	v := &fakeVolume{
		info: runtime.Volume{
			Name:       spec.Name,
			Driver:     "local",
			Mountpoint: "/var/lib/docker/volumes/" + spec.Name + "/_data",
			Labels:     labels,
			CreatedAt:  time.Now(),
		},
		files: make(map[string][]byte),
	}
	f.volumes[spec.Name] = v
	return copyVolume(&v.info), nil
}

// AddVolume registers a volume created outside the engine
func (f *FakeRuntime) AddVolume(name string, labels map[string]string) {
	if _, err := f.CreateVolume(context.Background(), runtime.VolumeSpec{Name: name, Labels: labels}); err != nil {
		panic(err)
	}
}

func (f *FakeRuntime) InspectVolume(ctx context.Context, name string) (*runtime.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("InspectVolume"); err != nil {
		return nil, err
	}
	v, ok := f.volumes[name]
	if !ok {
		return nil, errdefs.NotFound("volume.inspect", "volume:"+name)
	}
	return copyVolume(&v.info), nil
}

func (f *FakeRuntime) RemoveVolume(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("RemoveVolume"); err != nil {
		return err
	}
	if _, ok := f.volumes[name]; !ok {
		return errdefs.NotFound("volume.remove", "volume:"+name)
	}
	for _, c := range f.containers {
		if c.info.MountsVolume(name) {
			return errdefs.Conflict("volume.remove", "volume:"+name, "volume is in use by %s", c.info.ID)
		}
	}
	delete(f.volumes, name)
	return nil
}

func (f *FakeRuntime) ListVolumes(ctx context.Context, labels map[string]string) ([]*runtime.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.record("ListVolumes"); err != nil {
		return nil, err
	}
	var out []*runtime.Volume
	for _, v := range f.volumes {
		if hasLabels(v.info.Labels, labels) {
			out = append(out, copyVolume(&v.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetHealth overrides the native health status of a container
func (f *FakeRuntime) SetHealth(containerID string, h runtime.HealthStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[containerID].info.Health = h
}

// SetIPAddress sets the address reported for a container
func (f *FakeRuntime) SetIPAddress(containerID, ip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[containerID].info.IPAddress = ip
}

// SetStats overrides the stats sample for a container
func (f *FakeRuntime) SetStats(containerID string, s runtime.ContainerStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[containerID].stats = &s
}

// Kill marks a container as exited without going through the engine
func (f *FakeRuntime) Kill(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.containers[containerID]
	c.info.State = runtime.ContainerStateStopped
	c.info.ExitCode = 137
	closeOnce(c.done)
}

// Vanish deletes a container behind the engine's back
func (f *FakeRuntime) Vanish(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		closeOnce(c.done)
		delete(f.names, c.info.Name)
		delete(f.containers, containerID)
	}
}

// ContainerIDs lists every container id, sorted
func (f *FakeRuntime) ContainerIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.containers))
	for id := range f.containers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasVolume reports whether the named volume exists
func (f *FakeRuntime) HasVolume(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.volumes[name]
	return ok
}

// VolumeFile returns a file from a volume
func (f *FakeRuntime) VolumeFile(volume, name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.volumes[volume]
	if !ok {
		return nil, false
	}
	data, ok := v.files[strings.TrimPrefix(name, "/")]
	return data, ok
}

// PutVolumeFile writes a file into a volume directly
func (f *FakeRuntime) PutVolumeFile(volume, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[volume].files[strings.TrimPrefix(name, "/")] = data
}

// runHelper executes one-shot helper commands at start time. It returns
// false for ordinary long-running containers.
func (f *FakeRuntime) runHelper(c *fakeContainer) bool {
	if len(c.spec.Command) == 0 {
		return false
	}
	switch c.spec.Command[0] {
	case "du", "cat", "tar", "sh":
	default:
		return false
	}
	code, stdout, stderr := f.interpret(c, c.spec.Command, envList(c.spec.Env))
	c.info.ExitCode = code
	c.logs = append(c.logs, splitLog("stdout", stdout)...)
	c.logs = append(c.logs, splitLog("stderr", stderr)...)
	return true
}

// interpret runs a tiny subset of shell commands against mounted volumes
func (f *FakeRuntime) interpret(c *fakeContainer, cmd []string, env []string) (int, string, string) {
	if len(cmd) == 0 {
		return 127, "", "empty command"
	}
	vars := map[string]string{}
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	switch cmd[0] {
	case "true":
		return 0, "", ""
	case "false":
		return 1, "", ""
	case "du":
		vol, _, ok := f.resolve(c, cmd[len(cmd)-1])
		if !ok {
			return 1, "", "du: no such directory"
		}
		var total int64
		for _, data := range vol.files {
			total += int64(len(data))
		}
		return 0, fmt.Sprintf("%d\t%s\n", total, cmd[len(cmd)-1]), ""
	case "cat":
		vol, rel, ok := f.resolve(c, cmd[1])
		if !ok {
			return 1, "", "cat: no such file"
		}
		data, ok := vol.files[rel]
		if !ok {
			return 1, "", fmt.Sprintf("cat: %s: No such file or directory", cmd[1])
		}
		return 0, string(data), ""
	case "tar":
		if len(cmd) >= 5 && cmd[1] == "czf" && cmd[3] == "-C" {
			return f.archive(c, cmd[2], cmd[4])
		}
		return 2, "", "tar: unsupported invocation"
	case "sh":
		if target, ok := vars["TARGET"]; ok {
			vol, rel, ok := f.resolve(c, target)
			if !ok {
				return 1, "", "sh: cannot create " + target
			}
			vol.files[rel] = []byte(vars["CONTENT"])
			return 0, "", ""
		}
		if archive, ok := vars["ARCHIVE"]; ok {
			return f.extract(c, archive, vars["DEST"])
		}
		return 2, "", "sh: unsupported script"
	}
	return 127, "", cmd[0] + ": not found"
}

// resolve maps an in-container path onto a mounted volume
func (f *FakeRuntime) resolve(c *fakeContainer, p string) (*fakeVolume, string, bool) {
	p = path.Clean(p)
	for _, m := range c.info.Mounts {
		if m.Type != runtime.MountTypeVolume {
			continue
		}
		target := path.Clean(m.Target)
		if p == target || strings.HasPrefix(p, target+"/") {
			vol, ok := f.volumes[m.Source]
			if !ok {
				return nil, "", false
			}
			return vol, strings.TrimPrefix(strings.TrimPrefix(p, target), "/"), true
		}
	}
	return nil, "", false
}

// hostPath maps an in-container path onto a bind-mounted host directory
func hostPath(c *fakeContainer, p string) (string, bool) {
	p = path.Clean(p)
	for _, m := range c.info.Mounts {
		if m.Type != runtime.MountTypeBind {
			continue
		}
		target := path.Clean(m.Target)
		if strings.HasPrefix(p, target+"/") {
			return filepath.Join(m.Source, filepath.FromSlash(strings.TrimPrefix(p, target+"/"))), true
		}
	}
	return "", false
}

func (f *FakeRuntime) archive(c *fakeContainer, dest, src string) (int, string, string) {
	vol, _, ok := f.resolve(c, src)
	if !ok {
		return 2, "", "tar: source not mounted"
	}
	out, ok := hostPath(c, dest)
	if !ok {
		return 2, "", "tar: destination not mounted"
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	names := make([]string, 0, len(vol.files))
	for name := range vol.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data := vol.files[name]
		hdr := &tar.Header{Name: "./" + name, Mode: 0644, Size: int64(len(data)), ModTime: time.Unix(0, 0)}
		if err := tw.WriteHeader(hdr); err != nil {
			return 2, "", err.Error()
		}
		if _, err := tw.Write(data); err != nil {
			return 2, "", err.Error()
		}
	}
	tw.Close()
	gz.Close()

	if err := os.WriteFile(out, buf.Bytes(), 0600); err != nil {
		return 2, "", "tar: " + err.Error()
	}
	return 0, "", ""
}

func (f *FakeRuntime) extract(c *fakeContainer, archive, dest string) (int, string, string) {
	vol, _, ok := f.resolve(c, dest)
	if !ok {
		return 2, "", "tar: destination not mounted"
	}
	in, ok := hostPath(c, archive)
	if !ok {
		return 2, "", "tar: archive not mounted"
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return 2, "", "tar: " + err.Error()
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 2, "", "tar: " + err.Error()
	}
	files := make(map[string][]byte)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 2, "", "tar: " + err.Error()
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return 2, "", "tar: " + err.Error()
		}
		files[strings.TrimPrefix(path.Clean(hdr.Name), "./")] = content
	}
	vol.files = files
	return 0, "", ""
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyContainer(c *runtime.Container) *runtime.Container {
	out := *c
	out.Labels = make(map[string]string, len(c.Labels))
	for k, v := range c.Labels {
		out.Labels[k] = v
	}
	out.Mounts = append([]runtime.Mount(nil), c.Mounts...)
	return &out
}

func copyVolume(v *runtime.Volume) *runtime.Volume {
	out := *v
	out.Labels = make(map[string]string, len(v.Labels))
	for k, val := range v.Labels {
		out.Labels[k] = val
	}
	return &out
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func splitLog(stream, text string) []runtime.LogEntry {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	var out []runtime.LogEntry
	for _, l := range strings.Split(text, "\n") {
		out = append(out, runtime.LogEntry{Stream: stream, Line: l})
	}
	return out
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
