package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// DefaultRequestExpiry bounds how long a login flow attempt may take between
// the authorization redirect and the provider's callback.
const DefaultRequestExpiry = 10 * time.Minute

// LoginConfig configures a Login handler.
type LoginConfig struct {
	// AuthParams / AuthParamsFunc supply additional authorization endpoint
	// parameters, statically or per request. At most one may be set.
	AuthParams     Params
	AuthParamsFunc ParamsFunc

	// TokenParams / TokenParamsFunc supply additional token endpoint
	// parameters for the code exchange. At most one may be set.
	TokenParams     Params
	TokenParamsFunc ParamsFunc

	// UsePKCE enables PKCE for the flow. The challenge method is negotiated
	// against the provider's advertised support (preferring S256) unless
	// PKCEMethod pins it.
	UsePKCE bool

	// PKCEMethod optionally pins the PKCE challenge method (implies
	// UsePKCE). Pinning a method the provider doesn't support is a terminal
	// configuration error, reported when the handler is constructed.
	PKCEMethod oidc.ChallengeMethod

	// RequestExpiry bounds the flow attempt's lifetime. Defaults to
	// DefaultRequestExpiry.
	RequestExpiry time.Duration

	// Verify, when set, is applied to the exchanged token set before the
	// Success sink sees it.
	Verify *jwt.Spec

	// Checks binds the flow's AuthorizationChecks to the client across the
	// redirect. Required.
	Checks CheckStorage

	// CheckKey keys the checks within Checks. When empty, a key is derived
	// from the issuer's canonical hostname.
	CheckKey string

	// Success receives the exchanged (and optionally verified) token set.
	// When nil, a completed callback produces no response side effect.
	Success TokenSink

	// Error creates failure responses. Defaults to DefaultErrorResponse.
	Error ErrorFunc
}

// Login creates the two-phase login handler. A request whose query carries
// neither code nor error starts a flow: the handler generates state, nonce
// and (optionally) a PKCE verifier, persists them via the configured
// CheckStorage and redirects to the provider's authorization endpoint. A
// request carrying code or error completes the flow: the persisted checks
// are consumed exactly once (cleared before the exchange, whatever its
// outcome), the code is exchanged for tokens, and the Success sink is
// invoked.
func Login(p *oidc.Provider, c LoginConfig) (http.HandlerFunc, error) {
	const op = "handler.Login"
	if p == nil {
		return nil, fmt.Errorf("%s: provider is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.Checks == nil {
		return nil, fmt.Errorf("%s: check storage is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.AuthParams != nil && c.AuthParamsFunc != nil {
		return nil, fmt.Errorf("%s: both AuthParams and AuthParamsFunc are set: %w", op, oidc.ErrInvalidParameter)
	}
	if c.TokenParams != nil && c.TokenParamsFunc != nil {
		return nil, fmt.Errorf("%s: both TokenParams and TokenParamsFunc are set: %w", op, oidc.ErrInvalidParameter)
	}

	var challengeMethod oidc.ChallengeMethod
	usePKCE := c.UsePKCE || c.PKCEMethod != ""
	if usePKCE {
		var err error
		if challengeMethod, err = p.ChooseChallengeMethod(c.PKCEMethod); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	checkKey := c.CheckKey
	if checkKey == "" {
		host, err := p.IssuerHost()
		if err != nil {
			return nil, fmt.Errorf("%s: unable to derive a check key: %w", op, err)
		}
		checkKey = "oidc_checks_" + host
	}

	expiry := c.RequestExpiry
	if expiry <= 0 {
		expiry = DefaultRequestExpiry
	}
	errFn := c.Error
	if errFn == nil {
		errFn = DefaultErrorResponse
	}
	logger := p.Config().Log().Named("login")

	begin := func(w http.ResponseWriter, r *http.Request) {
		params, err := resolveParams(c.AuthParams, c.AuthParamsFunc, w, r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to resolve authorization parameters: %w", op, err))
			return
		}
		var reqOpts []oidc.Option
		if usePKCE {
			v, err := oidc.NewCodeVerifier(oidc.WithChallengeMethod(challengeMethod))
			if err != nil {
				errFn(w, r, fmt.Errorf("%s: %w", op, err))
				return
			}
			reqOpts = append(reqOpts, oidc.WithPKCE(v))
		}
		oidcReq, err := oidc.NewRequest(expiry, p.Config().RedirectURL, reqOpts...)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		if err := c.Checks.Set(w, r, checkKey, oidcReq.Checks()); err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to persist authorization checks: %w", op, err))
			return
		}
		authURL, err := p.AuthURL(r.Context(), oidcReq, params)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		logger.Debug("redirecting to authorization endpoint", "state", oidcReq.State())
		http.Redirect(w, r, authURL, http.StatusFound)
	}

	complete := func(w http.ResponseWriter, r *http.Request) {
		checks, err := c.Checks.Get(r, checkKey)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to read authorization checks: %w", op, err))
			return
		}
		if checks == nil || (checks.State == "" && checks.Nonce == "") {
			// replay, a missing/expired session, or an out-of-band callback
			errFn(w, r, fmt.Errorf("%s: %w", op, oidc.ErrMissingAuthorizationChecks))
			return
		}
		// one-shot consumption: clear before the exchange, independent of its
		// outcome, so a replayed callback cannot reuse the checks
		if err := c.Checks.Delete(w, r, checkKey); err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to clear authorization checks: %w", op, err))
			return
		}

		query := r.URL.Query()

		if errCode := query.Get("error"); errCode != "" {
			errFn(w, r, fmt.Errorf("%s: %w", op, &ProviderError{
				Code:        errCode,
				Description: query.Get("error_description"),
				URI:         query.Get("error_uri"),
			}))
			return
		}

		tokenParams, err := resolveParams(c.TokenParams, c.TokenParamsFunc, w, r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to resolve token parameters: %w", op, err))
			return
		}
		ts, err := p.Exchange(r.Context(), checks, query.Get("state"), query.Get("code"), tokenParams)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		var verified jwt.VerifiedSet
		if c.Verify != nil {
			if verified, err = jwt.VerifyTokenSet(r.Context(), ts, c.Verify); err != nil {
				errFn(w, r, fmt.Errorf("%s: %w", op, err))
				return
			}
		}
		logger.Debug("authorization code exchanged", "path", r.URL.Path)
		if c.Success != nil {
			if err := c.Success(w, r, ts, verified); err != nil {
				errFn(w, r, fmt.Errorf("%s: success sink failed: %w", op, err))
			}
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("code") == "" && q.Get("error") == "" {
			begin(w, r)
			return
		}
		complete(w, r)
	}, nil
}
