package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter             = errors.New("invalid parameter")
	ErrNilParameter                 = errors.New("nil parameter")
	ErrInvalidCACert                = errors.New("invalid CA certificate")
	ErrInvalidIssuer                = errors.New("invalid issuer")
	ErrIDGeneratorFailed            = errors.New("id generation failed")
	ErrExpiredRequest               = errors.New("authentication request is expired")
	ErrResponseStateInvalid         = errors.New("invalid response state")
	ErrMissingIDToken               = errors.New("id_token is missing")
	ErrInvalidSignature             = errors.New("invalid signature")
	ErrInvalidAudience              = errors.New("invalid audience")
	ErrInvalidNonce                 = errors.New("invalid nonce")
	ErrNotFound                     = errors.New("not found")
	ErrUserInfoFailed               = errors.New("user info failed")
	ErrUnsupportedChallengeMethod   = errors.New("unsupported code challenge method")
	ErrMissingRefreshToken          = errors.New("refresh_token is missing")
	ErrMissingEndSessionEndpoint    = errors.New("end_session_endpoint is missing")
	ErrMissingAuthorizationChecks   = errors.New("authorization checks are missing")
	ErrInvalidPostLogoutRedirectURI = errors.New("invalid post_logout_redirect_uri")
)
