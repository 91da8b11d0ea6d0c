package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	types := c.List()
	require.NotEmpty(t, types)

	ids := make([]string, 0, len(types))
	for _, ty := range types {
		ids = append(ids, ty.ID)
		assert.NotEmpty(t, ty.Image)
		assert.NotEmpty(t, ty.MountPath)
	}
	assert.IsIncreasing(t, ids)

	py, err := c.Get("python")
	require.NoError(t, err)
	assert.True(t, py.Supports("python"))
	assert.False(t, py.Supports("go"))
	assert.Equal(t, api.ProbeExec, py.HealthCheck.Probe)

	vs, err := c.Get("vscode")
	require.NoError(t, err)
	assert.True(t, vs.Supports("rust"))
}

func TestGetUnknown(t *testing.T) {
	_, err := Default().Get("cobol")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing id", "types:\n  - image: x\n", "id is required"},
		{"missing image", "types:\n  - id: a\n", "image is required"},
		{"duplicate", "types:\n  - {id: a, image: x}\n  - {id: a, image: y}\n", "defined twice"},
		{"http without port", "types:\n  - id: a\n    image: x\n    healthCheck: {enabled: true, probe: http}\n", "needs a port"},
		{"bad probe", "types:\n  - id: a\n    image: x\n    healthCheck: {enabled: true, probe: grpc}\n", "unknown probe"},
		{"not yaml", "types: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.yaml")
	require.NoError(t, os.WriteFile(path, []byte("types:\n  - id: rust\n    image: rust:1\n    languages: [rust]\n"), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	ty, err := c.Get("rust")
	require.NoError(t, err)
	assert.Equal(t, "rust", ty.Name)
	assert.Equal(t, "/workspace", ty.MountPath)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	d, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, len(Default().List()), len(d.List()))
}
