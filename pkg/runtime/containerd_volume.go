package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentdb9/wsengine/pkg/errdefs"
)

// volumeMeta is persisted next to each volume's data directory
type volumeMeta struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (r *ContainerdRuntime) volumePath(name string) string {
	return filepath.Join(r.volumesDir, name)
}

func (r *ContainerdRuntime) volumeDataPath(name string) string {
	return filepath.Join(r.volumesDir, name, "_data")
}

func (r *ContainerdRuntime) volumeNameForPath(p string) (string, bool) {
	rel, err := filepath.Rel(r.volumesDir, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || parts[1] != "_data" {
		return "", false
	}
	return parts[0], true
}

func (r *ContainerdRuntime) readVolume(name string) (*Volume, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid volume name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(r.volumePath(name), "meta.json"))
	if err != nil {
		return nil, err
	}
	var meta volumeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt volume metadata for %s: %w", name, err)
	}
	return &Volume{
		Name:       meta.Name,
		Driver:     "local",
		Mountpoint: r.volumeDataPath(name),
		Labels:     meta.Labels,
		CreatedAt:  meta.CreatedAt,
	}, nil
}

// CreateVolume creates the volume directory; an existing volume is returned as is
func (r *ContainerdRuntime) CreateVolume(ctx context.Context, spec VolumeSpec) (*Volume, error) {
	resource := "volume:" + spec.Name
	if v, err := r.readVolume(spec.Name); err == nil {
		return v, nil
	} else if !os.IsNotExist(err) {
		return nil, errdefs.Invalid("volume.create", resource, "%v", err)
	}

	r.logger.Info("Creating volume", zap.String("volume", spec.Name))

	if err := os.MkdirAll(r.volumeDataPath(spec.Name), 0755); err != nil {
		return nil, r.wrap("volume.create", resource, err)
	}
	meta := volumeMeta{Name: spec.Name, Labels: spec.Labels, CreatedAt: time.Now().UTC()}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, r.wrap("volume.create", resource, err)
	}
	tmp := filepath.Join(r.volumePath(spec.Name), "meta.json.tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, r.wrap("volume.create", resource, err)
	}
	if err := os.Rename(tmp, filepath.Join(r.volumePath(spec.Name), "meta.json")); err != nil {
		return nil, r.wrap("volume.create", resource, err)
	}
	return r.readVolume(spec.Name)
}

// InspectVolume returns volume metadata
func (r *ContainerdRuntime) InspectVolume(ctx context.Context, name string) (*Volume, error) {
	v, err := r.readVolume(name)
	if err != nil {
		return nil, r.wrap("volume.inspect", "volume:"+name, err)
	}
	return v, nil
}

// RemoveVolume deletes the volume directory. A volume mounted by any
// container is a conflict, matching the docker engine.
func (r *ContainerdRuntime) RemoveVolume(ctx context.Context, name string, force bool) error {
	resource := "volume:" + name
	if _, err := r.readVolume(name); err != nil {
		return r.wrap("volume.remove", resource, err)
	}

	users, err := r.ListContainers(ctx, ListFilter{All: true, Volume: name})
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return errdefs.Conflict("volume.remove", resource, "volume is in use by %d container(s)", len(users))
	}

	r.logger.Info("Removing volume", zap.String("volume", name), zap.Bool("force", force))
	if err := os.RemoveAll(r.volumePath(name)); err != nil {
		return r.wrap("volume.remove", resource, err)
	}
	return nil
}

// ListVolumes lists volumes carrying all of the given labels
func (r *ContainerdRuntime) ListVolumes(ctx context.Context, labels map[string]string) ([]*Volume, error) {
	entries, err := os.ReadDir(r.volumesDir)
	if err != nil {
		return nil, r.wrap("volume.list", "", err)
	}

	result := make([]*Volume, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := r.readVolume(e.Name())
		if err != nil {
			r.logger.Warn("Skipping unreadable volume", zap.String("volume", e.Name()), zap.Error(err))
			continue
		}
		if matchLabels(v.Labels, labels) {
			result = append(result, v)
		}
	}
	return result, nil
}
