package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusCreated:  {StatusStarting, StatusDeleting},
		StatusStarting: {StatusRunning, StatusError},
		StatusRunning:  {StatusStopping, StatusError, StatusDeleting},
		StatusStopping: {StatusStopped, StatusError},
		StatusStopped:  {StatusStarting, StatusDeleting},
		StatusError:    {StatusStarting, StatusStopping, StatusDeleting},
		StatusDeleting: {},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, Status("bogus").CanTransitionTo(StatusRunning))
	assert.False(t, Status("bogus").Valid())
}

func TestStatusTransient(t *testing.T) {
	assert.True(t, StatusStarting.Transient())
	assert.True(t, StatusStopping.Transient())
	assert.True(t, StatusDeleting.Transient())
	assert.False(t, StatusRunning.Transient())
	assert.False(t, StatusError.Transient())
}

func TestHealthCheckDefaults(t *testing.T) {
	var h HealthCheckConfig
	assert.Equal(t, 30*time.Second, h.Interval())
	assert.Equal(t, 5*time.Second, h.Timeout())
	assert.Equal(t, 3, h.RetryLimit())

	h = HealthCheckConfig{IntervalSeconds: 10, TimeoutSeconds: 2, Retries: 5}
	assert.Equal(t, 10*time.Second, h.Interval())
	assert.Equal(t, 2*time.Second, h.Timeout())
	assert.Equal(t, 5, h.RetryLimit())
}

func TestWorkspaceTypeSupports(t *testing.T) {
	node := WorkspaceType{Languages: []string{"javascript", "typescript"}}
	assert.True(t, node.Supports("typescript"))
	assert.False(t, node.Supports("python"))
	assert.True(t, node.Supports(""))
	assert.True(t, WorkspaceType{}.Supports("python"))
}

func TestNewVolumeSize(t *testing.T) {
	s := NewVolumeSize(3 << 30)
	assert.Equal(t, int64(3<<30), s.Bytes)
	assert.InDelta(t, 3072.0, s.MB, 0.001)
	assert.InDelta(t, 3.0, s.GB, 0.001)
}
