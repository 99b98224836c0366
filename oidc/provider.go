package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/oidcware/oidcware/internal/strutils"
)

// Provider provides integration with an OIDC provider using the typical
// 3-legged authorization code flow.
type Provider struct {
	config   *Config
	provider *oidc.Provider

	// endSessionEndpoint is the provider's RP-initiated logout endpoint, as
	// discovered or overridden by the config
	endSessionEndpoint string

	// challengeMethods is the provider's advertised
	// code_challenge_methods_supported. nil means the provider didn't
	// advertise a restriction, which is treated as supporting everything.
	challengeMethods []string

	mu sync.Mutex

	// backgroundCtx is the context used by the provider for background
	// activities like refreshing JWKs key sets
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates and initializes a Provider for the OIDC authorization
// code flow. Initializing the provider includes making an http request to the
// provider's issuer for discovery.
//
// See Provider.Done() which must be called to release provider resources.
func NewProvider(c *Config) (*Provider, error) {
	const op = "oidc.NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	// initializing the Provider with its background ctx/cancel allows
	// p.Done() to release any resources when returning errors from this
	// function.
	p := &Provider{
		config:              c,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}

	client, err := c.HTTPClient()
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	provider, err := oidc.NewProvider(HTTPClientContext(p.backgroundCtx, client), c.Issuer) // makes http req to issuer for discovery
	if err != nil {
		p.Done() // release the backgroundCtxCancel resources
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	p.provider = provider

	// optional discovery metadata the coreos package doesn't surface directly
	var metadata struct {
		EndSessionEndpoint            string   `json:"end_session_endpoint"`
		CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	}
	if err := provider.Claims(&metadata); err != nil {
		p.Done()
		return nil, fmt.Errorf("%s: unable to read provider discovery claims: %w", op, err)
	}
	p.endSessionEndpoint = metadata.EndSessionEndpoint
	if c.EndSessionEndpoint != "" {
		p.endSessionEndpoint = c.EndSessionEndpoint
	}
	p.challengeMethods = metadata.CodeChallengeMethodsSupported

	return p, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's configuration.
func (p *Provider) Config() *Config { return p.config }

// IssuerHost returns the canonical hostname of the configured issuer, which
// callers can use as a stable per-provider storage key.
func (p *Provider) IssuerHost() (string, error) {
	const op = "Provider.IssuerHost"
	u, err := url.Parse(p.config.Issuer)
	if err != nil {
		return "", fmt.Errorf("%s: issuer %s is invalid: %w", op, p.config.Issuer, ErrInvalidIssuer)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%s: issuer %s has no host: %w", op, p.config.Issuer, ErrInvalidIssuer)
	}
	return u.Hostname(), nil
}

// EndSessionEndpoint returns the provider's RP-initiated logout endpoint: the
// config's override when set, otherwise the discovered end_session_endpoint.
// An empty string means the provider doesn't support RP-initiated logout.
func (p *Provider) EndSessionEndpoint() string { return p.endSessionEndpoint }

// SupportsChallengeMethod reports whether the provider supports the PKCE
// challenge method. A provider which advertises no
// code_challenge_methods_supported restriction is treated as supporting
// everything.
func (p *Provider) SupportsChallengeMethod(m ChallengeMethod) bool {
	if len(p.challengeMethods) == 0 {
		return true
	}
	return strutils.StrListContains(p.challengeMethods, string(m))
}

// ChooseChallengeMethod picks the PKCE challenge method for a flow. When
// preferred is empty the method is negotiated against the provider's
// advertised support, preferring S256 over plain. When preferred is given it
// is honored only if the provider supports it. A provider which supports
// neither method is a terminal configuration error
// (ErrUnsupportedChallengeMethod).
func (p *Provider) ChooseChallengeMethod(preferred ChallengeMethod) (ChallengeMethod, error) {
	const op = "Provider.ChooseChallengeMethod"
	if preferred != "" {
		if _, ok := supportedChallengeMethods[preferred]; !ok {
			return "", fmt.Errorf("%s: %q: %w", op, preferred, ErrUnsupportedChallengeMethod)
		}
		if !p.SupportsChallengeMethod(preferred) {
			return "", fmt.Errorf("%s: provider does not support %q: %w", op, preferred, ErrUnsupportedChallengeMethod)
		}
		return preferred, nil
	}
	switch {
	case p.SupportsChallengeMethod(S256):
		return S256, nil
	case p.SupportsChallengeMethod(PKCEPlain):
		return PKCEPlain, nil
	default:
		return "", fmt.Errorf("%s: provider supports no known challenge method: %w", op, ErrUnsupportedChallengeMethod)
	}
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with the IdP. The extra parameters (which may be
// nil) are merged over the flow's defaults; the generated state and nonce
// cannot be overridden.
//
// See NewRequest() to create the flow Request with a valid State and Nonce
// that will uniquely identify the user's authentication attempt throughout
// the flow.
func (p *Provider) AuthURL(ctx context.Context, r *Request, extra map[string]string) (string, error) {
	const op = "Provider.AuthURL"
	if r == nil {
		return "", fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	if r.State() == r.Nonce() {
		return "", fmt.Errorf("%s: request state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	redirectURL := r.RedirectURL()
	if redirectURL == "" {
		redirectURL = p.config.RedirectURL
	}

	// "openid" is a required scope for oidc flows
	scopes := strutils.RemoveDuplicatesStable(
		append(append([]string{oidc.ScopeOpenID}, p.config.Scopes...), r.Scopes()...), false)

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     p.provider.Endpoint(),
		Scopes:       scopes,
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(r.Nonce()),
	}
	if v := r.PKCEVerifier(); v != nil {
		challenge, err := CreateCodeChallenge(v.Method(), v)
		if err != nil {
			return "", fmt.Errorf("%s: unable to create code challenge: %w", op, err)
		}
		authCodeOpts = append(authCodeOpts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", string(v.Method())),
		)
	}
	if locales := r.UILocales(); len(locales) > 0 {
		l := make([]string, 0, len(locales))
		for _, tag := range locales {
			l = append(l, tag.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(l, " ")))
	}
	for k, v := range extra {
		if k == "state" || k == "nonce" {
			p.config.Log().Debug("ignoring caller parameter: generated per flow", "parameter", k)
			continue
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam(k, v))
	}
	return oauth2Config.AuthCodeURL(r.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorization code and state it received in an earlier successful oidc
// authentication response, together with the AuthorizationChecks persisted
// when the flow began.
//
// It validates the response state against the checks' expected state and the
// flow attempt's expiration, supplies the PKCE code verifier when the flow
// used one, and verifies the returned id_token (signature, issuer, nonce,
// audience) before returning the TokenSet.
func (p *Provider) Exchange(ctx context.Context, checks *AuthorizationChecks, responseState string, authorizationCode string, extra map[string]string) (*TokenSet, error) {
	const op = "Provider.Exchange"
	if checks == nil || (checks.State == "" && checks.Nonce == "") {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingAuthorizationChecks)
	}
	if checks.State != responseState {
		return nil, fmt.Errorf("%s: authentication state and authorization response state are not equal: %w", op, ErrResponseStateInvalid)
	}
	if checks.IsExpired(WithNow(p.config.NowFunc)) {
		return nil, fmt.Errorf("%s: authentication request is expired: %w", op, ErrExpiredRequest)
	}

	client, err := p.config.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	oidcCtx := HTTPClientContext(ctx, client)

	oauth2Config := oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  p.config.RedirectURL,
		Endpoint:     p.provider.Endpoint(),
	}
	var exchangeOpts []oauth2.AuthCodeOption
	if checks.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam("code_verifier", checks.CodeVerifier))
	}
	for k, v := range extra {
		exchangeOpts = append(exchangeOpts, oauth2.SetAuthURLParam(k, v))
	}

	oauth2Token, err := oauth2Config.Exchange(oidcCtx, authorizationCode, exchangeOpts...)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to exchange auth code with provider: %w", op, err)
	}

	idToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%s: id_token is missing from auth code exchange: %w", op, ErrMissingIDToken)
	}
	ts, err := NewTokenSet(IDToken(idToken), oauth2Token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token set: %w", op, err)
	}
	if err := p.VerifyIDToken(ctx, ts.IDToken, checks.Nonce); err != nil {
		return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
	}
	return ts, nil
}

// RefreshToken performs a refresh token grant against the provider's token
// endpoint, returning a fresh TokenSet. The extra parameters (which may be
// nil) are added to the grant request. When the provider doesn't rotate the
// refresh token, the one being exchanged is carried over into the returned
// set. A returned id_token, when present, is verified (without a nonce
// check, since refresh responses carry none).
func (p *Provider) RefreshToken(ctx context.Context, refreshToken RefreshToken, extra map[string]string) (*TokenSet, error) {
	const op = "Provider.RefreshToken"
	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingRefreshToken)
	}
	client, err := p.config.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", string(refreshToken))
	form.Set("client_id", p.config.ClientID)
	form.Set("client_secret", string(p.config.ClientSecret))
	for k, v := range extra {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.provider.Endpoint().TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create token request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: token endpoint request failed: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read token response: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		var respErr struct {
			Code string `json:"error"`
			Desc string `json:"error_description"`
		}
		if err := json.Unmarshal(body, &respErr); err != nil || respErr.Code == "" {
			return nil, fmt.Errorf("%s: token endpoint returned %d", op, resp.StatusCode)
		}
		return nil, fmt.Errorf("%s: token endpoint returned %d: %s: %s", op, resp.StatusCode, respErr.Code, respErr.Desc)
	}

	var reply struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		IDToken      string `json:"id_token"`
		ExpiresIn    int64  `json:"expires_in"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%s: unable to decode token response: %w", op, err)
	}

	ts := &TokenSet{
		IDToken:      IDToken(reply.IDToken),
		AccessToken:  AccessToken(reply.AccessToken),
		RefreshToken: RefreshToken(reply.RefreshToken),
		TokenType:    reply.TokenType,
		Scope:        reply.Scope,
	}
	if ts.RefreshToken == "" {
		// the provider didn't rotate it
		ts.RefreshToken = refreshToken
	}
	if reply.ExpiresIn > 0 {
		ts.ExpiresAt = p.config.Now().Unix() + reply.ExpiresIn
	}
	if ts.IDToken != "" {
		if err := p.verifyIDToken(ctx, ts.IDToken, ""); err != nil {
			return nil, fmt.Errorf("%s: id_token failed verification: %w", op, err)
		}
	}
	return ts, nil
}

// EndSessionURL builds the provider's RP-initiated logout URL, embedding the
// id_token_hint (when not empty) and the given end-session parameters (which
// may be nil). The client_id is included by default; parameters override it.
func (p *Provider) EndSessionURL(idTokenHint IDToken, params map[string]string) (string, error) {
	const op = "Provider.EndSessionURL"
	if p.endSessionEndpoint == "" {
		return "", fmt.Errorf("%s: provider has no end_session_endpoint: %w", op, ErrMissingEndSessionEndpoint)
	}
	u, err := url.Parse(p.endSessionEndpoint)
	if err != nil {
		return "", fmt.Errorf("%s: end_session_endpoint %s is invalid: %w", op, p.endSessionEndpoint, ErrInvalidParameter)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", string(idTokenHint))
	}
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// UserInfo gets the UserInfo claims from the provider using the token
// produced by the tokenSource.
func (p *Provider) UserInfo(ctx context.Context, tokenSource oauth2.TokenSource, claims interface{}) error {
	const op = "Provider.UserInfo"
	if tokenSource == nil {
		return fmt.Errorf("%s: token source is nil: %w", op, ErrNilParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	client, err := p.config.HTTPClient()
	if err != nil {
		return fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	oidcCtx := HTTPClientContext(ctx, client)

	userinfo, err := p.provider.UserInfo(oidcCtx, tokenSource)
	if err != nil {
		return fmt.Errorf("%s: provider UserInfo request failed: %w", op, ErrUserInfoFailed)
	}
	if err := userinfo.Claims(claims); err != nil {
		return fmt.Errorf("%s: failed to get UserInfo claims: %w", op, err)
	}
	return nil
}

// VerifyIDToken will verify the inbound IDToken. It verifies it's been
// signed by the provider, it validates the nonce, and performs additional
// checks depending on the provider's config (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) error {
	const op = "Provider.VerifyIDToken"
	if nonce == "" {
		return fmt.Errorf("%s: nonce is empty: %w", op, ErrInvalidParameter)
	}
	if err := p.verifyIDToken(ctx, t, nonce); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// verifyIDToken verifies signature, issuer, expiry and audience. An empty
// expectedNonce skips the nonce claim check (refresh grant responses carry no
// nonce).
func (p *Provider) verifyIDToken(ctx context.Context, t IDToken, expectedNonce string) error {
	const op = "Provider.verifyIDToken"
	if t == "" {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		SupportedSigningAlgs: algs,
		ClientID:             p.config.ClientID,
	}
	if len(p.config.Audiences) > 0 {
		// the aud claim is checked against the configured list below instead
		oidcConfig.SkipClientIDCheck = true
	}
	verifier := p.provider.Verifier(oidcConfig)

	oidcIDToken, err := verifier.Verify(ctx, string(t))
	if err != nil {
		return fmt.Errorf("%s: invalid id_token: %w: %v", op, ErrInvalidSignature, err)
	}

	if expectedNonce != "" && oidcIDToken.Nonce != expectedNonce {
		return fmt.Errorf("%s: invalid id_token nonce: %w", op, ErrInvalidNonce)
	}

	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: invalid id_token audiences: %w", op, ErrInvalidAudience)
		}
	}
	return nil
}
