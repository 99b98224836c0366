package oidc

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
)

// Request basically represents one OIDC authentication flow for a user. It
// contains the data needed to uniquely represent that one-time flow across
// the multiple interactions needed to complete it. The State() is passed
// throughout the flow to uniquely identify the attempt, and together with the
// Nonce() is used to prevent CSRF and replay attacks (see the oidc spec for
// specifics). State and Nonce are never equal.
type Request struct {
	// state is a unique identifier and an opaque value used to maintain state
	// between the oidc request and the callback
	state string

	// nonce is a unique nonce used to associate a client session with an ID
	// Token and to mitigate replay attacks
	nonce string

	// expiration is the expiration time for the Request
	expiration time.Time

	// redirectURL is the URL where the provider will send its authorization
	// response
	redirectURL string

	// verifier is an optional PKCE code verifier for the flow
	verifier *CodeVerifier

	// scopes are optional per-request scopes, merged with the config's
	scopes []string

	// audiences are optional per-request allowed audiences
	audiences []string

	// uiLocales are optional preferred languages for the provider's
	// authentication UI
	uiLocales []language.Tag

	// nowFunc is an optional time func used when checking expiration
	nowFunc func() time.Time
}

// NewRequest creates a new Request with a fresh State and Nonce. The
// expireIn bounds the lifetime of the flow attempt; a callback arriving after
// the expiration will be rejected.
//
// Supported options: WithNow, WithPKCE, WithScopes, WithAudiences,
// WithUILocales
func NewRequest(expireIn time.Duration, redirectURL string, opt ...Option) (*Request, error) {
	const op = "oidc.NewRequest"
	opts := getReqOpts(opt...)
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's nonce: %w", op, err)
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a request's state: %w", op, err)
	}
	r := &Request{
		state:       state,
		nonce:       nonce,
		redirectURL: redirectURL,
		verifier:    opts.withVerifier,
		scopes:      opts.withScopes,
		audiences:   opts.withAudiences,
		uiLocales:   opts.withUILocales,
		nowFunc:     opts.withNowFunc,
	}
	r.expiration = r.now().Add(expireIn)
	return r, nil
}

// State is a unique identifier and an opaque value used to maintain state
// between the oidc request and the callback.
func (r *Request) State() string { return r.state }

// Nonce is a unique value used to associate a client session with an ID
// Token and to mitigate replay attacks.
func (r *Request) Nonce() string { return r.nonce }

// RedirectURL is the URL where the provider will send its authorization
// response.
func (r *Request) RedirectURL() string { return r.redirectURL }

// PKCEVerifier returns the request's PKCE code verifier, or nil when PKCE is
// not in use for this flow.
func (r *Request) PKCEVerifier() *CodeVerifier {
	if r.verifier == nil {
		return nil
	}
	return r.verifier.Copy()
}

// Scopes returns the request's optional per-request scopes.
func (r *Request) Scopes() []string { return r.scopes }

// Audiences returns the request's optional allowed audiences.
func (r *Request) Audiences() []string { return r.audiences }

// UILocales returns the request's optional preferred UI languages.
func (r *Request) UILocales() []language.Tag { return r.uiLocales }

// DefaultRequestExpirySkew defines a default time skew when checking a
// Request's expiration.
const DefaultRequestExpirySkew = 1 * time.Second

// IsExpired returns true if the request has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultRequestExpirySkew.
func (r *Request) IsExpired(opt ...Option) bool {
	opts := getReqOpts(opt...)
	return r.expiration.Before(r.now().Add(opts.withExpirySkew))
}

// Checks returns the callback-binding state for the request: the values that
// must be bound to the client across the redirect (typically in an encrypted
// session) and read back exactly once when the provider's callback arrives.
func (r *Request) Checks() *AuthorizationChecks {
	c := &AuthorizationChecks{
		State:     r.state,
		Nonce:     r.nonce,
		ExpiresAt: r.expiration.Unix(),
	}
	if r.verifier != nil {
		c.CodeVerifier = r.verifier.Verifier()
		c.ChallengeMethod = r.verifier.Method()
	}
	return c
}

func (r *Request) now() time.Time {
	if r.nowFunc != nil {
		return r.nowFunc()
	}
	return time.Now()
}

// AuthorizationChecks is the serializable callback-binding state for one
// authentication flow. It is created when the authorization redirect is
// issued, persisted via a caller-supplied session capability, and consumed
// (and cleared) exactly once when the callback arrives. Its absence at
// callback time is a hard failure: it signals a replay, a missing or expired
// session, or an out-of-band callback.
type AuthorizationChecks struct {
	// State is the expected oidc state of the authorization response
	State string `json:"state"`

	// Nonce is the expected nonce claim of the returned id_token
	Nonce string `json:"nonce"`

	// CodeVerifier is the PKCE code verifier for the flow, when PKCE is in
	// use
	CodeVerifier string `json:"code_verifier,omitempty"`

	// ChallengeMethod is the PKCE challenge method the verifier was issued
	// with
	ChallengeMethod ChallengeMethod `json:"challenge_method,omitempty"`

	// ExpiresAt is the flow attempt's expiration in epoch seconds. Zero means
	// the attempt doesn't expire.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// IsExpired returns true when the flow attempt the checks belong to has
// expired. Supports the WithNow option.
func (c *AuthorizationChecks) IsExpired(opt ...Option) bool {
	if c.ExpiresAt == 0 {
		return false
	}
	opts := getReqOpts(opt...)
	return time.Unix(c.ExpiresAt, 0).Before(opts.withNowFunc().Add(opts.withExpirySkew))
}

// reqOptions is the set of available options for Request functions
type reqOptions struct {
	withNowFunc    func() time.Time
	withExpirySkew time.Duration
	withVerifier   *CodeVerifier
	withScopes     []string
	withAudiences  []string
	withUILocales  []language.Tag
}

// reqDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func reqDefaults() reqOptions {
	return reqOptions{
		withExpirySkew: DefaultRequestExpirySkew,
		withNowFunc:    time.Now,
	}
}

// getReqOpts gets the defaults and applies the opt overrides passed in
func getReqOpts(opt ...Option) reqOptions {
	opts := reqDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPKCE provides an optional PKCE code verifier for a Request
func WithPKCE(v *CodeVerifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withVerifier = v
		}
	}
}

// WithUILocales provides an optional list of preferred languages for the
// provider's authentication UI (the ui_locales authorization parameter).
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*reqOptions); ok {
			o.withUILocales = append(o.withUILocales, locales...)
		}
	}
}
