package backend

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestGollmTranslateErrorClassification(t *testing.T) {
	a := &GollmAdapter{vendor: "openai"}

	err := a.translateError(t.Context(), errors.New("API returned 401 unauthorized"))
	assert.IsType(t, &AuthError{}, err)
	assert.False(t, IsRetryable(err))

	err = a.translateError(t.Context(), errors.New("rate limit exceeded"))
	assert.IsType(t, &RateLimitError{}, err)
	assert.True(t, IsRetryable(err))

	err = a.translateError(t.Context(), errors.New("prompt exceeds context length"))
	assert.IsType(t, &ContextLengthError{}, err)
	assert.False(t, IsRetryable(err))

	err = a.translateError(t.Context(), errors.New("500 internal server error"))
	assert.IsType(t, &ServerError{}, err)
	assert.True(t, IsRetryable(err))

	// Unclassifiable failures stay retryable so transient vendor hiccups
	// do not kill a turn.
	err = a.translateError(t.Context(), errors.New("something odd"))
	assert.True(t, IsRetryable(err))
}
