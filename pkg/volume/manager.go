// Package volume owns the naming and labeling convention for project
// volumes and every operation that touches volume contents.
package volume

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
	"github.com/agentdb9/wsengine/pkg/runtime"
)

const (
	// DefaultPrefix is prepended to a project id to form its volume name
	DefaultPrefix = "agentdb9-project-"

	// DefaultHelperImage runs the short-lived helper containers
	DefaultHelperImage = "busybox:1.36"

	// DataPath is where helpers mount the project volume
	DataPath = "/data"

	helperNamePrefix = "agentdb9-helper-"
)

var projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// Name returns the volume name for a project. It is the only place the
// name is derived.
func Name(projectID string) string {
	return DefaultPrefix + projectID
}

// ValidateProjectID rejects ids that cannot form a volume name
func ValidateProjectID(projectID string) error {
	if !projectIDPattern.MatchString(projectID) {
		return errdefs.Invalid("volume.name", "project:"+projectID,
			"project id must match %s", projectIDPattern.String())
	}
	return nil
}

// Config configures the volume manager
type Config struct {
	HelperImage   string
	HelperTimeout time.Duration
}

// Releaser gives up a managed container's hold on a volume. The
// lifecycle manager implements it so that a forced removal serializes
// with operations on the owning workspace.
type Releaser interface {
	ReleaseContainer(ctx context.Context, c *runtime.Container) error
}

// Manager performs volume CRUD independent of container state
type Manager struct {
	rt       runtime.Runtime
	config   Config
	logger   *zap.Logger
	releaser Releaser

	ensures singleflight.Group
}

// NewManager creates a volume manager on the shared runtime client
func NewManager(rt runtime.Runtime, config Config, logger *zap.Logger) *Manager {
	if config.HelperImage == "" {
		config.HelperImage = DefaultHelperImage
	}
	if config.HelperTimeout <= 0 {
		config.HelperTimeout = 2 * time.Minute
	}
	return &Manager{
		rt:     rt,
		config: config,
		logger: logger.Named("volume"),
	}
}

// SetReleaser routes forced removal of managed containers through r
func (m *Manager) SetReleaser(r Releaser) {
	m.releaser = r
}

// Ensure creates the project volume with the managed labels if it does
// not exist. Concurrent calls for the same project share one runtime call.
func (m *Manager) Ensure(ctx context.Context, projectID string) (*runtime.Volume, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	name := Name(projectID)

	v, err, _ := m.ensures.Do(name, func() (interface{}, error) {
		existing, err := m.rt.InspectVolume(ctx, name)
		if err == nil {
			if !runtime.IsManaged(existing.Labels) || existing.Labels[runtime.LabelProjectID] != projectID {
				m.logger.Warn("Volume exists without engine labels",
					zap.String("volume", name),
					zap.String("project_id", projectID),
				)
			}
			return existing, nil
		}
		if !errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("failed to inspect volume: %w", err)
		}

		created, err := m.rt.CreateVolume(ctx, runtime.VolumeSpec{
			Name:   name,
			Labels: runtime.ManagedLabels(projectID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create volume: %w", err)
		}
		m.logger.Info("Created project volume",
			zap.String("volume", name),
			zap.String("project_id", projectID),
		)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	out := *v.(*runtime.Volume)
	return &out, nil
}

// Inspect returns the project volume
func (m *Manager) Inspect(ctx context.Context, projectID string) (*runtime.Volume, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	return m.rt.InspectVolume(ctx, Name(projectID))
}

// Exists reports whether the project volume exists
func (m *Manager) Exists(ctx context.Context, projectID string) (bool, error) {
	_, err := m.Inspect(ctx, projectID)
	switch {
	case err == nil:
		return true, nil
	case errdefs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Users lists the containers that mount the project volume. With running
// set, stopped containers are left out.
func (m *Manager) Users(ctx context.Context, projectID string, running bool) ([]*runtime.Container, error) {
	return m.rt.ListContainers(ctx, runtime.ListFilter{
		Volume: Name(projectID),
		All:    !running,
	})
}

// Remove deletes the project volume. Without force any referencing
// container is a conflict. With force, managed containers are released
// first but a container the engine does not manage still blocks removal.
func (m *Manager) Remove(ctx context.Context, projectID string, force bool) error {
	v, err := m.Inspect(ctx, projectID)
	if err != nil {
		return err
	}
	name := v.Name
	if !runtime.IsManaged(v.Labels) {
		return errdefs.Conflict("volume.remove", "volume:"+name, "volume is not managed by the engine")
	}

	users, err := m.Users(ctx, projectID, false)
	if err != nil {
		return fmt.Errorf("failed to list volume users: %w", err)
	}
	if len(users) > 0 && !force {
		return errdefs.Conflict("volume.remove", "volume:"+name,
			"volume in use by %d container(s): %s", len(users), containerIDs(users))
	}
	for _, c := range users {
		if !runtime.IsManaged(c.Labels) {
			return errdefs.Conflict("volume.remove", "volume:"+name,
				"volume is mounted by unmanaged container %s", c.ID)
		}
	}
	for _, c := range users {
		if err := m.release(ctx, c); err != nil {
			return fmt.Errorf("failed to release container %s: %w", c.ID, err)
		}
		m.logger.Info("Force-removed container holding volume",
			zap.String("volume", name),
			zap.String("container_id", c.ID),
		)
	}

	if err := m.rt.RemoveVolume(ctx, name, false); err != nil {
		return err
	}
	m.logger.Info("Removed project volume",
		zap.String("volume", name),
		zap.String("project_id", projectID),
	)
	return nil
}

func (m *Manager) release(ctx context.Context, c *runtime.Container) error {
	if m.releaser != nil {
		return m.releaser.ReleaseContainer(ctx, c)
	}
	if err := m.rt.RemoveContainer(ctx, c.ID, true); err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// Size reports how many bytes the volume holds
func (m *Manager) Size(ctx context.Context, projectID string) (api.VolumeSize, error) {
	if _, err := m.Inspect(ctx, projectID); err != nil {
		return api.VolumeSize{}, err
	}

	out, err := m.runHelper(ctx, "volume.size", helperRun{
		projectID: projectID,
		readOnly:  true,
		command:   []string{"du", "-sb", DataPath},
	})
	if err != nil {
		return api.VolumeSize{}, err
	}

	fields := strings.Fields(out)
	if len(fields) == 0 {
		return api.VolumeSize{}, errdefs.RuntimeUnavailable("volume.size", "volume:"+Name(projectID),
			fmt.Errorf("empty du output"))
	}
	bytes, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return api.VolumeSize{}, errdefs.RuntimeUnavailable("volume.size", "volume:"+Name(projectID),
			fmt.Errorf("unexpected du output %q: %w", out, err))
	}
	return api.NewVolumeSize(bytes), nil
}

// ReadFile reads one file from the volume
func (m *Manager) ReadFile(ctx context.Context, projectID, name string) ([]byte, error) {
	target, err := dataPath(projectID, name)
	if err != nil {
		return nil, err
	}
	if _, err := m.Inspect(ctx, projectID); err != nil {
		return nil, err
	}
	out, err := m.runHelper(ctx, "volume.read", helperRun{
		projectID: projectID,
		readOnly:  true,
		command:   []string{"cat", target},
	})
	if err != nil {
		return nil, err
	}
	return []byte(out), nil
}

// WriteFile writes one file into the volume, creating parent directories
func (m *Manager) WriteFile(ctx context.Context, projectID, name string, data []byte) error {
	target, err := dataPath(projectID, name)
	if err != nil {
		return err
	}
	if _, err := m.Ensure(ctx, projectID); err != nil {
		return err
	}
	_, err = m.runHelper(ctx, "volume.write", helperRun{
		projectID: projectID,
		command:   []string{"sh", "-c", `mkdir -p "$(dirname "$TARGET")" && printf '%s' "$CONTENT" > "$TARGET"`},
		env: map[string]string{
			"TARGET":  target,
			"CONTENT": string(data),
		},
	})
	return err
}

func dataPath(projectID, name string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+name), "/")
	if rel == "" {
		return "", errdefs.Invalid("volume.file", "volume:"+Name(projectID), "file name %q is empty", name)
	}
	return path.Join(DataPath, rel), nil
}

// helperRun describes one ephemeral helper container
type helperRun struct {
	projectID string
	readOnly  bool
	command   []string
	env       map[string]string
	binds     []runtime.Mount
}

// runHelper runs a short-lived, unlabeled container with the project
// volume mounted at DataPath and returns its stdout. The container is
// always removed, even when ctx is already done.
func (m *Manager) runHelper(ctx context.Context, op string, run helperRun) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.HelperTimeout)
	defer cancel()

	volumeName := Name(run.projectID)
	resource := "volume:" + volumeName
	spec := runtime.ContainerSpec{
		Name:    helperNamePrefix + uuid.NewString()[:8],
		Image:   m.config.HelperImage,
		Command: run.command,
		Env:     run.env,
		Mounts: append([]runtime.Mount{{
			Type:     runtime.MountTypeVolume,
			Source:   volumeName,
			Target:   DataPath,
			ReadOnly: run.readOnly,
		}}, run.binds...),
		Security: runtime.DefaultSecurity(),
	}

	id, err := m.rt.CreateContainer(ctx, spec)
	if err != nil {
		return "", errdefs.FromContext(op, resource, fmt.Errorf("failed to create helper: %w", err))
	}
	defer func() {
		rmCtx, rmCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer rmCancel()
		if err := m.rt.RemoveContainer(rmCtx, id, true); err != nil && !errdefs.IsNotFound(err) {
			m.logger.Warn("Failed to remove helper container",
				zap.String("container_id", id),
				zap.String("operation", op),
				zap.Error(err),
			)
		}
	}()

	if err := m.rt.StartContainer(ctx, id); err != nil {
		return "", errdefs.FromContext(op, resource, fmt.Errorf("failed to start helper: %w", err))
	}
	code, err := m.rt.WaitContainer(ctx, id)
	if err != nil {
		return "", errdefs.FromContext(op, resource, fmt.Errorf("failed waiting for helper: %w", err))
	}

	logs, err := m.rt.ContainerLogs(ctx, id, 0)
	if err != nil {
		return "", errdefs.FromContext(op, resource, fmt.Errorf("failed to read helper output: %w", err))
	}
	var stdout, stderr []string
	for _, l := range logs {
		if l.Stream == "stderr" {
			stderr = append(stderr, l.Line)
		} else {
			stdout = append(stdout, l.Line)
		}
	}

	if code != 0 {
		return "", errdefs.RuntimeUnavailable(op, resource,
			fmt.Errorf("helper exited with code %d: %s", code, strings.Join(stderr, "; ")))
	}
	m.logger.Debug("Helper finished",
		zap.String("operation", op),
		zap.String("volume", volumeName),
	)
	return strings.Join(stdout, "\n"), nil
}

func containerIDs(cs []*runtime.Container) string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ID)
	}
	return strings.Join(ids, ",")
}
