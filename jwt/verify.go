package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oidcware/oidcware/internal/strutils"
	"github.com/oidcware/oidcware/oidc"
)

// TokenKind identifies which member of a token set a verification applies
// to. It is a closed set so iteration order and membership checks stay
// well-defined.
type TokenKind string

const (
	IDTokenKind      TokenKind = "id_token"
	AccessTokenKind  TokenKind = "access_token"
	RefreshTokenKind TokenKind = "refresh_token"
)

var tokenKinds = map[TokenKind]bool{
	IDTokenKind:      true,
	AccessTokenKind:  true,
	RefreshTokenKind: true,
}

// Expected defines the expected claim values (and leeways) used to validate
// a verified token's claims. Zero values skip the corresponding check.
type Expected struct {
	// Issuer is the expected iss claim
	Issuer string

	// Subject is the expected sub claim
	Subject string

	// Audiences are the allowed aud claim values. The token must carry at
	// least one of them.
	Audiences []string

	// SigningAlgorithms restricts the allowed JOSE header alg values.
	SigningAlgorithms []oidc.Alg

	// ExpirationLeeway is the clock tolerance granted when checking the exp
	// claim
	ExpirationLeeway time.Duration

	// NotBeforeLeeway is the clock tolerance granted when checking the nbf
	// and iat claims
	NotBeforeLeeway time.Duration

	// NowFunc is a time func used for the exp/nbf/iat checks. It defaults to
	// time.Now.
	NowFunc func() time.Time
}

func (e Expected) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now()
}

// Spec describes how to verify a token set: the key material (or resolver),
// which token kinds to verify and in what order, and the expected claim
// values. A Spec is immutable once handed to a handler.
type Spec struct {
	// KeySet verifies token signatures. Required.
	KeySet KeySet

	// Tokens is the ordered set of token kinds to verify. Kinds absent from
	// the inbound token set are silently skipped. Required.
	Tokens []TokenKind

	// Expected holds the claim expectations applied to every verified token.
	Expected Expected
}

func (s *Spec) validate() error {
	const op = "Spec.validate"
	if s == nil {
		return fmt.Errorf("%s: spec is nil: %w", op, ErrNilParameter)
	}
	if s.KeySet == nil {
		return fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	if len(s.Tokens) == 0 {
		return fmt.Errorf("%s: no token kinds: %w", op, ErrInvalidParameter)
	}
	for _, kind := range s.Tokens {
		if !tokenKinds[kind] {
			return fmt.Errorf("%s: %q: %w", op, kind, ErrUnknownTokenKind)
		}
	}
	return nil
}

// Header is the decoded JOSE header of a verified token.
type Header struct {
	Algorithm string `json:"alg"`
	KeyID     string `json:"kid,omitempty"`
	Type      string `json:"typ,omitempty"`
}

// VerifiedToken is the outcome of verifying one token: its decoded header
// and its (signature-checked, claims-validated) payload claims.
type VerifiedToken struct {
	Header Header
	Claims map[string]interface{}
}

// VerifiedSet maps each verified token kind to its outcome. Only kinds
// present in the inbound token set AND listed in the Spec appear.
type VerifiedSet map[TokenKind]*VerifiedToken

// VerifyTokenSet verifies the tokens of ts against spec, in the order
// spec.Tokens lists them. Token kinds absent from ts produce no entry and
// no error.
// Verification is not partial-failure-tolerant: the first failing token kind
// aborts the whole call. A nil ts is treated as an empty set.
//
// The inbound token set is never mutated; verifying the same set twice
// yields equivalent results.
func VerifyTokenSet(ctx context.Context, ts *oidc.TokenSet, spec *Spec) (VerifiedSet, error) {
	const op = "jwt.VerifyTokenSet"
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	verified := make(VerifiedSet, len(spec.Tokens))
	if ts == nil {
		return verified, nil
	}
	for _, kind := range spec.Tokens {
		raw := ts.Token(string(kind))
		if raw == "" {
			continue
		}
		vt, err := verifyToken(ctx, raw, spec)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, kind, err)
		}
		verified[kind] = vt
	}
	return verified, nil
}

func verifyToken(ctx context.Context, raw string, spec *Spec) (*VerifiedToken, error) {
	header, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if len(spec.Expected.SigningAlgorithms) > 0 {
		algs := make([]string, 0, len(spec.Expected.SigningAlgorithms))
		for _, a := range spec.Expected.SigningAlgorithms {
			algs = append(algs, string(a))
		}
		if !strutils.StrListContains(algs, header.Algorithm) {
			return nil, fmt.Errorf("%q: %w", header.Algorithm, ErrUnsupportedAlg)
		}
	}
	claims, err := spec.KeySet.VerifySignature(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := validateClaims(claims, spec.Expected); err != nil {
		return nil, err
	}
	return &VerifiedToken{
		Header: header,
		Claims: claims,
	}, nil
}

// parseHeader decodes the JOSE header of a compact-serialization JWS without
// verifying anything.
func parseHeader(raw string) (Header, error) {
	var h Header
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return h, fmt.Errorf("jwt does not have 3 parts: %w", ErrMalformedToken)
	}
	decoded, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return h, fmt.Errorf("unable to decode jwt header: %w", ErrMalformedToken)
	}
	if err := json.Unmarshal(decoded, &h); err != nil {
		return h, fmt.Errorf("unable to unmarshal jwt header: %w", ErrMalformedToken)
	}
	return h, nil
}

// validateClaims checks registered claims against the expected values. Zero
// expected values skip their check; exp/nbf/iat are always checked when
// present in the claims.
func validateClaims(claims map[string]interface{}, e Expected) error {
	now := e.now()

	if exp, ok := claimTime(claims, "exp"); ok {
		if now.After(exp.Add(e.ExpirationLeeway)) {
			return ErrExpiredToken
		}
	}
	if nbf, ok := claimTime(claims, "nbf"); ok {
		if now.Add(e.NotBeforeLeeway).Before(nbf) {
			return ErrNotYetValidToken
		}
	}
	if iat, ok := claimTime(claims, "iat"); ok {
		if now.Add(e.NotBeforeLeeway).Before(iat) {
			return fmt.Errorf("issued in the future: %w", ErrNotYetValidToken)
		}
	}
	if e.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != e.Issuer {
			return ErrInvalidIssuer
		}
	}
	if e.Subject != "" {
		if sub, _ := claims["sub"].(string); sub != e.Subject {
			return ErrInvalidSubject
		}
	}
	if len(e.Audiences) > 0 {
		if !audienceMatches(claims["aud"], e.Audiences) {
			return ErrInvalidAudience
		}
	}
	return nil
}

// claimTime reads a NumericDate claim. A missing or non-numeric claim
// reports ok == false.
func claimTime(claims map[string]interface{}, name string) (time.Time, bool) {
	v, ok := claims[name]
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(i, 0), true
	}
	return time.Time{}, false
}

// audienceMatches handles the aud claim's two wire forms: a single string or
// an array of strings.
func audienceMatches(aud interface{}, allowed []string) bool {
	switch v := aud.(type) {
	case string:
		return strutils.StrListContains(allowed, v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok && strutils.StrListContains(allowed, s) {
				return true
			}
		}
	}
	return false
}
