package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetKinds(t *testing.T) {
	assert.Equal(t, KindValidation, NewValidationError("bad input").Kind)
	assert.Equal(t, KindNotFound, NewNotFoundError("missing").Kind)
	assert.Equal(t, KindConflict, NewConflictError("busy").Kind)
	assert.Equal(t, KindAdapterTransient, NewAdapterTransientError("throttled").Kind)
	assert.Equal(t, KindAdapterPermanent, NewAdapterPermanentError("denied").Kind)
	assert.Equal(t, KindInternal, NewInternalError("broken").Kind)
}

func TestErrorStringIncludesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewInternalError("failed to write").WithCause(cause)
	assert.Contains(t, err.Error(), "internal")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestWithDetail(t *testing.T) {
	err := NewNotFoundError("finding not found").WithDetail("finding_id", "f-1")
	assert.Equal(t, "f-1", err.Details["finding_id"])
}

func TestKindOfThroughWrapping(t *testing.T) {
	inner := NewConflictError("scan already in progress")
	wrapped := fmt.Errorf("starting scan: %w", inner)

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindConflict))
	assert.False(t, IsKind(wrapped, KindNotFound))
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(stderrors.New("mystery")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewAdapterTransientError("throttled")))
	assert.False(t, IsRetryable(NewAdapterPermanentError("denied")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, KindAdapterTransient, "listing buckets")
	require.True(t, stderrors.Is(err, cause))
	assert.Equal(t, KindAdapterTransient, KindOf(err))
	assert.Equal(t, SeverityMedium, err.Severity)

	internal := Wrap(cause, KindInternal, "database write")
	assert.Equal(t, SeverityCritical, internal.Severity)
}
