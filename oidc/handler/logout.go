package handler

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// LogoutConfig configures a Logout handler.
type LogoutConfig struct {
	// Params / ParamsFunc supply additional end session endpoint parameters,
	// for example post_logout_redirect_uri or state. At most one may be set.
	Params     Params
	ParamsFunc ParamsFunc

	// Verify, when set, is applied to the token set on the post-logout
	// callback before the sink sees it.
	Verify *jwt.Spec

	// Read obtains the current token set, whose id_token becomes the
	// id_token_hint of the end session redirect. Required.
	Read TokenReader

	// Sink is invoked on the post-logout callback, typically to clear the
	// persisted token set.
	Sink TokenSink

	// Error creates failure responses. Defaults to DefaultErrorResponse.
	Error ErrorFunc
}

// Logout creates the RP-initiated logout handler. A plain request redirects
// to the provider's end session endpoint with the current id_token as
// id_token_hint. When the resolved parameters carry a
// post_logout_redirect_uri matching the inbound request's own path and query,
// the request is instead treated as the provider's post-logout callback and
// handed to the sink, which closes the round trip by clearing local session
// state.
func Logout(p *oidc.Provider, c LogoutConfig) (http.HandlerFunc, error) {
	const op = "handler.Logout"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.Read == nil {
		return nil, fmt.Errorf("%s: token reader is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.Params != nil && c.ParamsFunc != nil {
		return nil, fmt.Errorf("%s: both Params and ParamsFunc are set: %w", op, oidc.ErrInvalidParameter)
	}
	errFn := c.Error
	if errFn == nil {
		errFn = DefaultErrorResponse
	}
	logger := p.Config().Log().Named("logout")

	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := c.Read(r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to read token set: %w", op, err))
			return
		}
		params, err := resolveParams(c.Params, c.ParamsFunc, w, r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to resolve end session parameters: %w", op, err))
			return
		}
		if raw := params["post_logout_redirect_uri"]; raw != "" {
			u, err := url.Parse(raw)
			if err != nil || !u.IsAbs() {
				errFn(w, r, fmt.Errorf("%s: %q: %w", op, raw, oidc.ErrInvalidPostLogoutRedirectURI))
				return
			}
			if r.URL.Path == u.Path && r.URL.RawQuery == u.RawQuery {
				// the provider redirected the agent back to us
				var verified jwt.VerifiedSet
				if c.Verify != nil {
					if verified, err = jwt.VerifyTokenSet(r.Context(), ts, c.Verify); err != nil {
						errFn(w, r, fmt.Errorf("%s: %w", op, err))
						return
					}
				}
				logger.Debug("post-logout callback", "path", r.URL.Path)
				if c.Sink != nil {
					if err := c.Sink(w, r, ts, verified); err != nil {
						errFn(w, r, fmt.Errorf("%s: sink failed: %w", op, err))
					}
				}
				return
			}
		}
		var hint oidc.IDToken
		if ts != nil {
			hint = ts.IDToken
		}
		endSessionURL, err := p.EndSessionURL(hint, params)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		logger.Debug("redirecting to end session endpoint")
		http.Redirect(w, r, endSessionURL, http.StatusFound)
	}, nil
}
