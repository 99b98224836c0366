package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.2
type ChallengeMethod string

const (
	// PKCEPlain is the "plain" PKCE challenge method: the code challenge is
	// the code verifier itself.
	PKCEPlain ChallengeMethod = "plain"

	// S256 is the PKCE challenge method which hashes the code verifier with
	// sha256 and base64url encodes it without padding.
	S256 ChallengeMethod = "S256"
)

// verifierLen is the length of a generated code verifier: 32 bytes of entropy
// base64url encoded without padding (RFC 7636 requires 43 to 128 chars).
const verifierLen = 43

// CodeVerifier represents an OAuth PKCE code verifier and the challenge
// method it will be used with.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier struct {
	verifier string
	method   ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier.
//
// Supported options: WithChallengeMethod (defaults to S256)
func NewCodeVerifier(opt ...Option) (*CodeVerifier, error) {
	const op = "oidc.NewCodeVerifier"
	opts := getPKCEOpts(opt...)
	if _, ok := supportedChallengeMethods[opts.withMethod]; !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, opts.withMethod, ErrUnsupportedChallengeMethod)
	}
	data := make([]byte, 32)
	if _, err := rand.Read(data); err != nil {
		return nil, fmt.Errorf("%s: unable to generate verifier data: %w", op, err)
	}
	return &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   opts.withMethod,
	}, nil
}

// Verifier returns the verifier's random URL-safe string
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Method returns the verifier's challenge method
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// Challenge returns the verifier's code challenge derived with its challenge
// method
func (v *CodeVerifier) Challenge() string {
	challenge, _ := CreateCodeChallenge(v.method, v)
	return challenge
}

// Copy a CodeVerifier
func (v *CodeVerifier) Copy() *CodeVerifier {
	return &CodeVerifier{
		verifier: v.verifier,
		method:   v.method,
	}
}

// RestoreCodeVerifier recreates a CodeVerifier from a previously generated
// verifier string, as read back from per-flow storage at callback time.
func RestoreCodeVerifier(method ChallengeMethod, verifier string) (*CodeVerifier, error) {
	const op = "oidc.RestoreCodeVerifier"
	if _, ok := supportedChallengeMethods[method]; !ok {
		return nil, fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	if verifier == "" {
		return nil, fmt.Errorf("%s: verifier is empty: %w", op, ErrInvalidParameter)
	}
	return &CodeVerifier{
		verifier: verifier,
		method:   method,
	}, nil
}

// CreateCodeChallenge creates a code challenge from the verifier using the
// given challenge method. Valid methods: PKCEPlain and S256.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case PKCEPlain:
		return v.verifier, nil
	case S256:
		h := sha256.New()
		_, _ = h.Write([]byte(v.verifier)) // hash documented never to return an error
		return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
	default:
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

var supportedChallengeMethods = map[ChallengeMethod]bool{
	PKCEPlain: true,
	S256:      true,
}

// pkceOptions is the set of available options for NewCodeVerifier
type pkceOptions struct {
	withMethod ChallengeMethod
}

// pkceDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func pkceDefaults() pkceOptions {
	return pkceOptions{
		withMethod: S256,
	}
}

// getPKCEOpts gets the defaults and applies the opt overrides passed in
func getPKCEOpts(opt ...Option) pkceOptions {
	opts := pkceDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithChallengeMethod provides an optional challenge method for a new
// CodeVerifier.
func WithChallengeMethod(m ChallengeMethod) Option {
	return func(o interface{}) {
		if o, ok := o.(*pkceOptions); ok {
			o.withMethod = m
		}
	}
}
