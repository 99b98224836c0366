package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/oidcware/oidcware/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
)

// TestProvider is a local TLS server impersonating an OIDC provider for
// tests: discovery, authorization, token (authorization_code and
// refresh_token grants), JWKS, userinfo and end session endpoints. The
// authorization endpoint captures the nonce and PKCE challenge it is handed,
// and the token endpoint holds the authorization_code grant to them.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	expectedAuthNonce   string
	allowedRedirectURIs []string
	challengeMethods    []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration
	replyRefreshToken   string
	rotatedRefreshToken string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitRefreshToken    bool
	omitEndSession      bool
	disableUserInfo     bool

	capturedNonce           string
	capturedChallenge       string
	capturedChallengeMethod string

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random local
// port. It is stopped via t.Cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t: t,
		allowedRedirectURIs: []string{
			"https://example.com/callback",
		},
		challengeMethods:  []string{string(S256), string(PKCEPlain)},
		replySubject:      "alice@example.com",
		replyExpiry:       1 * time.Hour,
		replyRefreshToken: "test-refresh-token",
		replyUserinfo: map[string]interface{}{
			"sub":   "alice@example.com",
			"email": "alice@example.com",
			"name":  "Alice Example",
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(ioutil.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's base URL, which also serves as its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the PEM encoded CA certificate of the provider's TLS
// server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the PEM encoded keys the provider signs JWTs with.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// HTTPClient returns a client trusting the provider's TLS certificate and
// not following redirects, so tests can inspect Location headers.
func (p *TestProvider) HTTPClient(t *testing.T) *http.Client {
	t.Helper()
	require := require.New(t)
	pool := x509.NewCertPool()
	require.True(pool.AppendCertsFromPEM([]byte(p.caCert)))
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// SetClientCreds configures the client credentials the token endpoint
// expects.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code returned from the authorization
// endpoint and accepted by the token endpoint.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedAuthNonce pins the nonce claim of issued id_tokens. When unset,
// the nonce captured on the authorization endpoint is used.
func (p *TestProvider) SetExpectedAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthNonce = nonce
}

// SetAllowedRedirectURIs configures the redirect URIs the token endpoint
// accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSupportedChallengeMethods configures the advertised
// code_challenge_methods_supported. nil omits the field from the discovery
// document entirely.
func (p *TestProvider) SetSupportedChallengeMethods(methods []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.challengeMethods = methods
}

// SetCustomClaims merges additional claims into issued id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetCustomAudience overrides the aud claim of issued id_tokens.
func (p *TestProvider) SetCustomAudience(aud string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = aud
}

// SetReplyExpiry configures the expires_in horizon of token responses.
func (p *TestProvider) SetReplyExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = d
}

// SetRotatedRefreshToken makes the refresh_token grant rotate: its response
// carries the given token instead of repeating the original.
func (p *TestProvider) SetRotatedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotatedRefreshToken = token
}

// OmitIDTokens forces an error state where token responses carry no
// id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens makes token responses carry no refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// OmitEndSessionEndpoint removes end_session_endpoint from the discovery
// document.
func (p *TestProvider) OmitEndSessionEndpoint() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitEndSession = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// CapturedAuthNonce returns the nonce of the most recent authorization
// request.
func (p *TestProvider) CapturedAuthNonce() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturedNonce
}

// CapturedCodeChallenge returns the PKCE method and challenge of the most
// recent authorization request.
func (p *TestProvider) CapturedCodeChallenge() (method, challenge string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturedChallengeMethod, p.capturedChallenge
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	return json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string   `json:"issuer"`
			AuthEndpoint       string   `json:"authorization_endpoint"`
			TokenEndpoint      string   `json:"token_endpoint"`
			JWKSURI            string   `json:"jwks_uri"`
			UserinfoEndpoint   string   `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string   `json:"end_session_endpoint,omitempty"`
			ChallengeMethods   []string `json:"code_challenge_methods_supported,omitempty"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/auth",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/certs",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/logout",
			ChallengeMethods:   p.challengeMethods,
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.omitEndSession {
			reply.EndSessionEndpoint = ""
		}

		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutils.StrListContains(strutils.ParseStringSlice(qv.Get("scope"), " "), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		p.capturedNonce = qv.Get("nonce")
		p.capturedChallenge = qv.Get("code_challenge")
		p.capturedChallengeMethod = qv.Get("code_challenge_method")

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)

		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		p.serveToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.replyUserinfo)

	case "/logout":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		if redirect := qv.Get("post_logout_redirect_uri"); redirect != "" {
			if state := qv.Get("state"); state != "" {
				redirect += "?state=" + url.QueryEscape(state)
			}
			http.Redirect(w, req, redirect, http.StatusFound)
			return
		}
		_ = p.writeJSON(w, map[string]interface{}{})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var nonce string
	switch req.FormValue("grant_type") {
	case "authorization_code":
		switch {
		case !strutils.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case req.FormValue("code") != p.expectedAuthCode:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		}
		if p.capturedChallenge != "" {
			verifier := req.FormValue("code_verifier")
			if verifier == "" {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "missing code_verifier")
				return
			}
			if testChallengeFor(p.capturedChallengeMethod, verifier) != p.capturedChallenge {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier does not match challenge")
				return
			}
		}
		nonce = p.expectedAuthNonce
		if nonce == "" {
			nonce = p.capturedNonce
		}

	case "refresh_token":
		got := req.FormValue("refresh_token")
		switch {
		case got == "":
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
			return
		case got != p.replyRefreshToken:
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unknown refresh_token")
			return
		}

	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
		return
	}

	now := time.Now()
	claims := map[string]interface{}{
		"iss": p.Addr(),
		"sub": p.replySubject,
		"aud": []string{p.clientID},
		"iat": now.Unix(),
		"nbf": now.Add(-5 * time.Second).Unix(),
		"exp": now.Add(p.replyExpiry).Unix(),
	}
	if p.customAudience != "" {
		claims["aud"] = []string{p.customAudience}
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range p.customClaims {
		claims[k] = v
	}

	jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, claims)

	reply := struct {
		AccessToken  string `json:"access_token"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
	}{
		AccessToken:  jwtData,
		IDToken:      jwtData,
		RefreshToken: p.replyRefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.replyExpiry.Seconds()),
	}
	if p.omitIDToken {
		reply.IDToken = ""
	}
	if p.omitRefreshToken {
		reply.RefreshToken = ""
	}
	if req.FormValue("grant_type") == "refresh_token" && p.rotatedRefreshToken != "" {
		reply.RefreshToken = p.rotatedRefreshToken
	}
	_ = p.writeJSON(w, &reply)
}

// testChallengeFor derives the code challenge a verifier should hash to.
func testChallengeFor(method, verifier string) string {
	if method == string(S256) {
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return verifier
}

// testJWKS converts a PEM encoded public key into a JWKS document suitable
// for the verification endpoint.
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				KeyID:     "test-sig-key",
				Algorithm: string(ES256),
				Use:       "sig",
			},
		},
	}
}
