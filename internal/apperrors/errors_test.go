package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		kind   Kind
		status int
	}{
		{Validation("x"), KindValidation, http.StatusBadRequest},
		{NotFound("x"), KindNotFound, http.StatusNotFound},
		{Forbidden("x"), KindForbidden, http.StatusForbidden},
		{Unauthorized("x"), KindUnauthorized, http.StatusUnauthorized},
		{Conflict("x"), KindConflict, http.StatusConflict},
		{ItemUnavailable(), KindConflict, http.StatusBadRequest},
		{DuplicateRequest(), KindConflict, http.StatusBadRequest},
		{InvalidState("x"), KindConflict, http.StatusBadRequest},
		{SelfTrade(), KindValidation, http.StatusBadRequest},
		{RateLimited(), KindRateLimited, http.StatusTooManyRequests},
		{Internal(errors.New("boom")), KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Code, func(t *testing.T) {
			assert.Equal(t, tc.kind, tc.err.Kind)
			assert.Equal(t, tc.status, tc.err.Status)
		})
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("create: %w", ItemUnavailable())

	assert.True(t, errors.Is(err, ItemUnavailable()))
	assert.False(t, errors.Is(err, DuplicateRequest()))
	assert.Equal(t, CodeItemUnavailable, CodeOf(err))
	assert.Equal(t, KindConflict, KindOf(err))
}

func TestFromWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("connection reset")
	appErr := From(cause)

	assert.Equal(t, KindInternal, appErr.Kind)
	assert.ErrorIs(t, appErr, cause)
	assert.False(t, appErr.Retryable)
	assert.Nil(t, From(nil))
}

func TestRetryableKeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	appErr := Retryable(cause)

	assert.True(t, appErr.Retryable)
	assert.ErrorIs(t, appErr, cause)
	assert.False(t, Internal(cause).Retryable)
}
