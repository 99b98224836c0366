package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// ErrorFunc creates the http response when a handler fails. The host
// application owns the mapping from error kind to transport response; the
// handlers never retry or recover, they only raise a distinguishable error.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, err error)

// ProviderError represents an oauth2 authorization error response delivered
// on the callback's error/error_description/error_uri query parameters.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

// Error implements error.
func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization error response: %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("authorization error response: %s", e.Code)
}

// DefaultErrorResponse maps the package's error kinds to conventional status
// codes: verification and refresh failures to 401, broken or replayed flow
// state and provider-denied authorizations to 403, an unusable
// post_logout_redirect_uri to 400, everything else
// (configuration, exchange, network) to 500. Bodies stay generic; the error
// detail is for the host's logs, not the client.
func DefaultErrorResponse(w http.ResponseWriter, _ *http.Request, err error) {
	var pErr *ProviderError
	switch {
	case errors.As(err, &pErr):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, oidc.ErrMissingAuthorizationChecks),
		errors.Is(err, oidc.ErrResponseStateInvalid),
		errors.Is(err, oidc.ErrExpiredRequest):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, oidc.ErrInvalidPostLogoutRedirectURI):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, oidc.ErrMissingRefreshToken),
		errors.Is(err, oidc.ErrInvalidSignature),
		errors.Is(err, oidc.ErrInvalidNonce),
		errors.Is(err, oidc.ErrInvalidAudience),
		errors.Is(err, jwt.ErrInvalidSignature),
		errors.Is(err, jwt.ErrMalformedToken),
		errors.Is(err, jwt.ErrExpiredToken),
		errors.Is(err, jwt.ErrNotYetValidToken),
		errors.Is(err, jwt.ErrInvalidIssuer),
		errors.Is(err, jwt.ErrInvalidSubject),
		errors.Is(err, jwt.ErrInvalidAudience),
		errors.Is(err, jwt.ErrUnsupportedAlg):
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	default:
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
