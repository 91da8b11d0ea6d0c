// Package catalog loads the workspace types a workspace can be created from.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/agentdb9/wsengine/pkg/api"
	"github.com/agentdb9/wsengine/pkg/errdefs"
)

//go:embed types.yaml
var defaultTypes []byte

type document struct {
	Types []api.WorkspaceType `yaml:"types"`
}

// Catalog is an immutable set of workspace types
type Catalog struct {
	types map[string]api.WorkspaceType
	order []string
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := Parse(defaultTypes)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog file, or the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(doc.Types...)
}

// New builds a catalog from types, rejecting duplicates and entries
// missing an id or image
func New(types ...api.WorkspaceType) (*Catalog, error) {
	c := &Catalog{types: make(map[string]api.WorkspaceType, len(types))}
	for i, t := range types {
		if t.ID == "" {
			return nil, fmt.Errorf("type %d: id is required", i)
		}
		if t.Image == "" {
			return nil, fmt.Errorf("type %s: image is required", t.ID)
		}
		if _, dup := c.types[t.ID]; dup {
			return nil, fmt.Errorf("type %s: defined twice", t.ID)
		}
		if err := validateProbe(t); err != nil {
			return nil, fmt.Errorf("type %s: %w", t.ID, err)
		}
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.MountPath == "" {
			t.MountPath = "/workspace"
		}
		c.types[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

func validateProbe(t api.WorkspaceType) error {
	hc := t.HealthCheck
	if !hc.Enabled {
		return nil
	}
	switch hc.Probe {
	case "", api.ProbeNative, api.ProbeExec:
		if len(hc.Command) == 0 && hc.Probe != "" {
			return fmt.Errorf("%s probe needs a command", hc.Probe)
		}
	case api.ProbeHTTP, api.ProbeTCP:
		if hc.Port <= 0 {
			return fmt.Errorf("%s probe needs a port", hc.Probe)
		}
	default:
		return fmt.Errorf("unknown probe type %q", hc.Probe)
	}
	return nil
}

// Get returns one type
func (c *Catalog) Get(id string) (api.WorkspaceType, error) {
	t, ok := c.types[id]
	if !ok {
		return api.WorkspaceType{}, errdefs.NotFound("catalog.get", "type:"+id)
	}
	return t, nil
}

// List returns every type ordered by id
func (c *Catalog) List() []api.WorkspaceType {
	out := make([]api.WorkspaceType, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.types[id])
	}
	return out
}
