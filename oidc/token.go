package oidc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// IDToken is an oidc id_token.
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDToken
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string {
	return RedactedIDToken
}

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIDToken)
}

// Claims retrieves the IDToken claims.
func (t IDToken) Claims(claims interface{}) error {
	const op = "IDToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	return UnmarshalClaims(string(t), claims)
}

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// DefaultTokenExpirySkew defines a default time skew when checking a
// TokenSet's expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// TokenSet is the bundle of tokens plus metadata returned by a token
// endpoint. Not all fields are present at all times: which tokens an IdP
// returns depends on the flow and the provider's configuration.
//
// A TokenSet is constructed fresh on each read/write cycle and is never
// retained beyond a single request, except by caller-supplied persistence.
// Its JSON form round-trips faithfully (tokens are NOT redacted) so it can be
// handed to an encrypted session or cookie; use String() when logging.
type TokenSet struct {
	// IDToken is the oidc id_token
	IDToken IDToken

	// AccessToken is the oauth access_token
	AccessToken AccessToken

	// RefreshToken is the oauth refresh_token. It may be empty, based on the
	// IdP and the scopes requested.
	RefreshToken RefreshToken

	// TokenType is the oauth token_type (typically "Bearer")
	TokenType string

	// ExpiresAt is the access token expiration in absolute epoch seconds.
	// Zero means the expiration is unknown.
	ExpiresAt int64

	// Scope is the space separated scope granted by the IdP
	Scope string

	// Extra holds provider specific extension fields returned alongside the
	// standard token response members.
	Extra map[string]interface{}
}

// NewTokenSet creates a TokenSet from an id_token and a successful oauth2
// token response.
func NewTokenSet(idToken IDToken, t *oauth2.Token) (*TokenSet, error) {
	const op = "oidc.NewTokenSet"
	if t == nil {
		return nil, fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	}
	ts := &TokenSet{
		IDToken:      idToken,
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		TokenType:    t.TokenType,
	}
	if !t.Expiry.IsZero() {
		ts.ExpiresAt = t.Expiry.Unix()
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts, nil
}

// RedactedTokenSet is the redacted string for a TokenSet
const RedactedTokenSet = "[REDACTED: token set]"

// String will redact the entire set
func (ts *TokenSet) String() string {
	return RedactedTokenSet
}

// Token returns the raw token stored under the standard response member name
// ("id_token", "access_token" or "refresh_token"). It returns an empty string
// for an absent token or an unknown name.
func (ts *TokenSet) Token(name string) string {
	if ts == nil {
		return ""
	}
	switch name {
	case "id_token":
		return string(ts.IDToken)
	case "access_token":
		return string(ts.AccessToken)
	case "refresh_token":
		return string(ts.RefreshToken)
	}
	return ""
}

// Expired reports whether the set's access token should be considered
// expired. An unknown expiration (ExpiresAt == 0) is treated as expired: the
// fail-safe reading for callers deciding whether a refresh is due.
//
// Supports the WithExpirySkew and WithNow options.
func (ts *TokenSet) Expired(opt ...Option) bool {
	if ts == nil {
		return true
	}
	opts := getTokenOpts(opt...)
	if ts.ExpiresAt == 0 {
		return true
	}
	expiry := time.Unix(ts.ExpiresAt, 0)
	return expiry.Before(opts.withNowFunc().Add(opts.withExpirySkew))
}

// MarshalJSON writes the faithful (unredacted) wire form of the set,
// including any Extra members. Empty standard members are omitted.
func (ts TokenSet) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, len(ts.Extra)+6)
	for k, v := range ts.Extra {
		raw[k] = v
	}
	if ts.IDToken != "" {
		raw["id_token"] = string(ts.IDToken)
	}
	if ts.AccessToken != "" {
		raw["access_token"] = string(ts.AccessToken)
	}
	if ts.RefreshToken != "" {
		raw["refresh_token"] = string(ts.RefreshToken)
	}
	if ts.TokenType != "" {
		raw["token_type"] = ts.TokenType
	}
	if ts.ExpiresAt != 0 {
		raw["expires_at"] = ts.ExpiresAt
	}
	if ts.Scope != "" {
		raw["scope"] = ts.Scope
	}
	return json.Marshal(raw)
}

// UnmarshalJSON reads the wire form of the set. Unknown members are kept in
// Extra. A non-numeric expires_at is tolerated and left as zero (unknown).
func (ts *TokenSet) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*ts = TokenSet{}
	for k, v := range raw {
		switch k {
		case "id_token":
			if s, ok := v.(string); ok {
				ts.IDToken = IDToken(s)
				continue
			}
		case "access_token":
			if s, ok := v.(string); ok {
				ts.AccessToken = AccessToken(s)
				continue
			}
		case "refresh_token":
			if s, ok := v.(string); ok {
				ts.RefreshToken = RefreshToken(s)
				continue
			}
		case "token_type":
			if s, ok := v.(string); ok {
				ts.TokenType = s
				continue
			}
		case "expires_at":
			if n, ok := v.(float64); ok {
				ts.ExpiresAt = int64(n)
				continue
			}
			// tolerated: treated as an unknown expiration
			continue
		case "scope":
			if s, ok := v.(string); ok {
				ts.Scope = s
				continue
			}
		}
		if ts.Extra == nil {
			ts.Extra = map[string]interface{}{}
		}
		ts.Extra[k] = v
	}
	return nil
}

// UnmarshalClaims will retrieve the claims from the provided raw JWT token.
// The claims are not verified: see the jwt package for claim verification.
func UnmarshalClaims(rawToken string, claims interface{}) error {
	const op = "oidc.UnmarshalClaims"
	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%s: jwt does not have 3 parts: %w", op, ErrInvalidParameter)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("%s: unable to decode jwt payload: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal jwt payload: %w", op, err)
	}
	return nil
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
		withNowFunc:    time.Now,
	}
}

// getTokenOpts gets the defaults and applies the opt overrides passed in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
