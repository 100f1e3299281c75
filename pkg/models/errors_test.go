package models

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{nil, ""},
		{NewValidationError("priority", "out of range"), CodeValidation},
		{ErrNotFound, CodeNotFound},
		{ErrInvalidState, CodeInvalidState},
		{ErrInvalidTransition, CodeInvalidTransition},
		{ErrCyclicDependency, CodeCyclicDependency},
		{ErrCapacityExceeded, CodeCapacityExceeded},
		{ErrDependencyUnavailable, CodeDependencyUnavailable},
		{ErrUpstreamFailure, CodeUpstreamFailure},
		{context.DeadlineExceeded, CodeTimeout},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, ErrorCode(tc.err))
	}
}

func TestErrorCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("task abc: %w", ErrNotFound)
	assert.Equal(t, CodeNotFound, ErrorCode(err))

	err = fmt.Errorf("spawn: %w", fmt.Errorf("limit hit: %w", ErrCapacityExceeded))
	assert.Equal(t, CodeCapacityExceeded, ErrorCode(err))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("deadline", "must be in the future")
	assert.Equal(t, "validation failed for deadline: must be in the future", err.Error())
	assert.True(t, IsValidationError(err))
	assert.True(t, IsValidationError(fmt.Errorf("submit: %w", err)))
	assert.False(t, IsValidationError(ErrNotFound))

	bare := &ValidationError{Message: "bad request"}
	assert.Equal(t, "validation failed: bad request", bare.Error())
}
