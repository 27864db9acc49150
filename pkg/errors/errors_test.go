package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCode(t *testing.T) {
	cloned := Clone(ErrPersistence, "batch 3 failed")
	wrapped := fmt.Errorf("students sync: %w", cloned)

	assert.True(t, errors.Is(wrapped, ErrPersistence))
	assert.False(t, errors.Is(wrapped, ErrParse))
	assert.Equal(t, "batch 3 failed", cloned.Message)
	assert.Equal(t, "failed to persist records", ErrPersistence.Message)
}

func TestWrapAsKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapAs(ErrTransientHTTP, cause, "GET %s", "/v1/students")

	assert.Equal(t, "GET /v1/students: connection reset", err.Error())
	assert.Equal(t, http.StatusBadGateway, err.Status)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTransient(fmt.Errorf("page 2: %w", err)))
	assert.False(t, IsTransient(Clone(ErrPermanentHTTP, "404")))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Equal(t, http.StatusInternalServerError, plain.Status)

	typed := FromError(fmt.Errorf("wrapped: %w", Clone(ErrAuth, "token rejected")))
	assert.Equal(t, ErrAuth.Code, typed.Code)
	assert.Equal(t, "token rejected", typed.Message)
}
