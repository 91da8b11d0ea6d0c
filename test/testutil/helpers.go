package testutil

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/agentdb9/wsengine/pkg/store"
)

// NewTestLogger creates a logger suitable for testing that outputs to the test log
func NewTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// NewBoltStore opens a bolt store in a temp dir that is closed with the test
func NewBoltStore(t *testing.T) *store.BoltStore {
	t.Helper()

	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "wsengine.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to open bolt store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
