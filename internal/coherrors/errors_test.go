package coherrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := New(Timeout, "op", ErrTimeout)
	assert.True(t, Is(err, Timeout))
	assert.False(t, Is(err, Transport))
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := New(BadConfig, "inner.op", errors.New("boom"))
	wrapped := Wrap(Transport, "outer.op", inner)
	assert.Same(t, inner, wrapped)
}

func TestUnwrap_ReachesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(Transport, "op", cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithContext_Chains(t *testing.T) {
	err := New(BadValue, "op", errors.New("bad")).WithContext("key", "k1").WithContext("cache", "people")
	assert.Equal(t, "k1", err.Context["key"])
	assert.Equal(t, "people", err.Context["cache"])
}

func TestNewServerError_IsServerErrorKind(t *testing.T) {
	err := NewServerError("namedmap.get", "NOT_FOUND", "no such key")
	assert.True(t, Is(err, ServerErrorKind))
	var se *ServerError
	assert.True(t, errors.As(err.Cause, &se))
	assert.Equal(t, "NOT_FOUND", se.Code)
}
