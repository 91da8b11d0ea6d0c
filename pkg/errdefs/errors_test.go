package errdefs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"not found", NotFound("op", "workspace:a"), KindNotFound},
		{"wrapped conflict", fmt.Errorf("outer: %w", Conflict("op", "volume:v", "in use by %d", 2)), KindConflict},
		{"deadline", context.DeadlineExceeded, KindOperationTimeout},
		{"wrapped deadline", fmt.Errorf("inspect: %w", context.DeadlineExceeded), KindOperationTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"runtime", RuntimeUnavailable("op", "", errors.New("dial unix")), KindRuntimeUnavailable},
		{"invariant", InvariantViolation("op", "workspace:a", "two containers"), KindInvariantViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Succeeded, Classify(nil))
	assert.Equal(t, FailedRecoverable, Classify(NotFound("op", "x")))
	assert.Equal(t, FailedRecoverable, Classify(Conflict("op", "x", "busy")))
	assert.Equal(t, FailedRecoverable, Classify(Invalid("op", "x", "bad")))
	assert.Equal(t, FailedFatal, Classify(RuntimeUnavailable("op", "x", errors.New("down"))))
	assert.Equal(t, FailedFatal, Classify(Timeout("op", "x", context.DeadlineExceeded)))
	assert.Equal(t, FailedFatal, Classify(InvariantViolation("op", "x", "broken")))
	assert.Equal(t, FailedFatal, Classify(errors.New("untyped")))
}

func TestFromContext(t *testing.T) {
	err := FromContext("workspace.start", "workspace:a", fmt.Errorf("create: %w", context.DeadlineExceeded))
	assert.True(t, IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	typed := NotFound("op", "x")
	assert.Same(t, typed, FromContext("other", "y", typed))

	plain := errors.New("plain")
	assert.Same(t, plain, FromContext("op", "x", plain))
	assert.Nil(t, FromContext("op", "x", nil))
}

func TestErrorMessage(t *testing.T) {
	err := RuntimeUnavailable("workspace.start", "workspace:a", errors.New("connection refused"))
	assert.Equal(t, "workspace.start: runtime_unavailable workspace:a: connection refused", err.Error())

	cause := errors.New("cause")
	wrapped := New(KindConflict, "op", "", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "op: conflict: cause", wrapped.Error())
}

func TestParseKind(t *testing.T) {
	for k := KindNotFound; k <= KindInvariantViolation; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindUnknown, ParseKind("nonsense"))
	assert.Equal(t, KindUnknown, ParseKind(""))
}
