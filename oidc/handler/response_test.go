package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

func TestProviderError(t *testing.T) {
	assert := assert.New(t)
	e := &ProviderError{Code: "access_denied", Description: "user said no"}
	assert.Contains(e.Error(), "access_denied")
	assert.Contains(e.Error(), "user said no")

	e = &ProviderError{Code: "access_denied"}
	assert.Contains(e.Error(), "access_denied")

	var target *ProviderError
	wrapped := fmt.Errorf("handler.Login: %w", e)
	assert.True(errors.As(wrapped, &target))
}

func TestDefaultErrorResponse(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"provider-error", &ProviderError{Code: "access_denied"}, http.StatusForbidden},
		{"missing-checks", oidc.ErrMissingAuthorizationChecks, http.StatusForbidden},
		{"state-mismatch", oidc.ErrResponseStateInvalid, http.StatusForbidden},
		{"expired-request", oidc.ErrExpiredRequest, http.StatusForbidden},
		{"bad-post-logout-uri", oidc.ErrInvalidPostLogoutRedirectURI, http.StatusBadRequest},
		{"missing-refresh-token", oidc.ErrMissingRefreshToken, http.StatusUnauthorized},
		{"bad-signature", jwt.ErrInvalidSignature, http.StatusUnauthorized},
		{"expired-token", jwt.ErrExpiredToken, http.StatusUnauthorized},
		{"bad-nonce", oidc.ErrInvalidNonce, http.StatusUnauthorized},
		{"anything-else", errors.New("session store down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			rr := httptest.NewRecorder()
			wrapped := fmt.Errorf("handler.Test: %w", tt.err)
			DefaultErrorResponse(rr, httptest.NewRequest("GET", "/", nil), wrapped)
			assert.Equal(tt.want, rr.Code)
		})
	}
}
