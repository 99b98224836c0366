package handler

import (
	"fmt"
	"net/http"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// RefreshConfig configures a Refresh handler.
type RefreshConfig struct {
	// TokenParams / TokenParamsFunc supply additional token endpoint
	// parameters for the refresh grant. At most one may be set.
	TokenParams     Params
	TokenParamsFunc ParamsFunc

	// Verify, when set, is applied to the refreshed token set before the
	// sink sees it.
	Verify *jwt.Spec

	// Read obtains the current token set. Required.
	Read TokenReader

	// Sink receives the refreshed (and optionally verified) token set,
	// typically to re-persist it. Not invoked when no refresh was due.
	Sink TokenSink

	// Error creates failure responses. Defaults to DefaultErrorResponse.
	Error ErrorFunc

	// Next, when set, runs after the handler's work (refreshed or not),
	// allowing Refresh to be chained as a conditional pre-handler in front
	// of Verify or a protected resource.
	Next http.Handler
}

// Refresh creates a single-phase handler that inspects the current token
// set's expiry and conditionally performs a refresh-token grant. A set whose
// expires_at is in the past is due; so is a set without a usable expires_at
// at all, the fail-safe reading (a warning is logged, since it can also mask
// a misconfigured token reader). When no refresh is due the handler is a
// no-op: the sink is not invoked and no token endpoint call is made.
func Refresh(p *oidc.Provider, c RefreshConfig) (http.HandlerFunc, error) {
	const op = "handler.Refresh"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.Read == nil {
		return nil, fmt.Errorf("%s: token reader is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.TokenParams != nil && c.TokenParamsFunc != nil {
		return nil, fmt.Errorf("%s: both TokenParams and TokenParamsFunc are set: %w", op, oidc.ErrInvalidParameter)
	}
	errFn := c.Error
	if errFn == nil {
		errFn = DefaultErrorResponse
	}
	logger := p.Config().Log().Named("refresh")

	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := c.Read(r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to read token set: %w", op, err))
			return
		}
		if ts == nil {
			ts = &oidc.TokenSet{}
		}
		if ts.ExpiresAt == 0 {
			logger.Warn("token set has no usable expires_at; treating it as expired")
		}
		if !ts.Expired(oidc.WithNow(p.Config().NowFunc)) {
			if c.Next != nil {
				c.Next.ServeHTTP(w, r)
			}
			return
		}
		if ts.RefreshToken == "" {
			errFn(w, r, fmt.Errorf("%s: %w", op, oidc.ErrMissingRefreshToken))
			return
		}
		params, err := resolveParams(c.TokenParams, c.TokenParamsFunc, w, r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to resolve token parameters: %w", op, err))
			return
		}
		refreshed, err := p.RefreshToken(r.Context(), ts.RefreshToken, params)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		var verified jwt.VerifiedSet
		if c.Verify != nil {
			if verified, err = jwt.VerifyTokenSet(r.Context(), refreshed, c.Verify); err != nil {
				errFn(w, r, fmt.Errorf("%s: %w", op, err))
				return
			}
		}
		if c.Sink != nil {
			if err := c.Sink(w, r, refreshed, verified); err != nil {
				errFn(w, r, fmt.Errorf("%s: sink failed: %w", op, err))
				return
			}
		}
		if c.Next != nil {
			c.Next.ServeHTTP(w, r)
		}
	}, nil
}
