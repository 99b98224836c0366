package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrMalformedToken   = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("no known key successfully validated the token signature")
	ErrExpiredToken     = errors.New("token is expired")
	ErrNotYetValidToken = errors.New("token is not yet valid")
	ErrInvalidIssuer    = errors.New("invalid issuer claim (iss)")
	ErrInvalidSubject   = errors.New("invalid subject claim (sub)")
	ErrInvalidAudience  = errors.New("invalid audience claim (aud)")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrInvalidCACert    = errors.New("invalid CA certificate")
	ErrUnknownTokenKind = errors.New("unknown token kind")
)
