package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsIdentity(t *testing.T) {
	cause := errors.New("signature is invalid")
	err := fmt.Errorf("verify reset token: %w", Wrap(ErrInvalidToken, cause))

	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExpiredToken)
	assert.Equal(t, "invalid_token", Code(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrMissingFields, http.StatusBadRequest},
		{ErrDuplicateIdentity, http.StatusConflict},
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrAccountLocked, http.StatusForbidden},
		{ErrUserNotFound, http.StatusNotFound},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestMessageHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "Internal server error", Message(errors.New("sql: database is locked")))
	assert.Equal(t, "Account is locked", Message(ErrAccountLocked))
}
