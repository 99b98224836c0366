package oidc

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

func testNewProvider(t *testing.T, tp *TestProvider, opt ...Option) *Provider {
	t.Helper()
	require := require.New(t)
	opts := append([]Option{WithProviderCA(tp.CACert())}, opt...)
	c, err := NewConfig(
		tp.Addr(),
		"test-client-id", "test-client-secret",
		[]Alg{ES256},
		"https://example.com/callback",
		opts...,
	)
	require.NoError(err)
	p, err := NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)
	tp.SetClientCreds("test-client-id", "test-client-secret")
	return p
}

func TestNewProvider(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		assert.Equal(tp.Addr()+"/logout", p.EndSessionEndpoint())

		host, err := p.IssuerHost()
		assert.NoError(err)
		assert.Equal("127.0.0.1", host)
	})
	t.Run("end-session-override", func(t *testing.T) {
		assert := assert.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp, WithEndSessionEndpoint("https://other.example.com/logout"))
		assert.Equal("https://other.example.com/logout", p.EndSessionEndpoint())
	})
	t.Run("nil-config", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		p, err := NewProvider(nil)
		require.Error(err)
		assert.Nil(p)
		assert.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("invalid-config", func(t *testing.T) {
		require := require.New(t)
		p, err := NewProvider(&Config{})
		require.Error(err)
		require.Nil(p)
	})
	t.Run("unreachable-issuer", func(t *testing.T) {
		require := require.New(t)
		c, err := NewConfig("https://127.0.0.1:1", "id", "secret", []Alg{ES256}, "https://example.com/callback")
		require.NoError(err)
		p, err := NewProvider(c)
		require.Error(err)
		require.Nil(p)
	})
}

func TestProvider_ChooseChallengeMethod(t *testing.T) {
	tests := []struct {
		name      string
		advertise []string
		preferred ChallengeMethod
		want      ChallengeMethod
		wantErr   bool
	}{
		{"auto-prefers-s256", []string{"S256", "plain"}, "", S256, false},
		{"auto-plain-only", []string{"plain"}, "", PKCEPlain, false},
		{"auto-unrestricted", nil, "", S256, false},
		{"auto-nothing-known", []string{"S384"}, "", "", true},
		{"pinned-supported", []string{"S256", "plain"}, PKCEPlain, PKCEPlain, false},
		{"pinned-unsupported", []string{"plain"}, S256, "", true},
		{"pinned-unknown", []string{"S256"}, ChallengeMethod("S512"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			tp := StartTestProvider(t)
			tp.SetSupportedChallengeMethods(tt.advertise)
			p := testNewProvider(t, tp)

			got, err := p.ChooseChallengeMethod(tt.preferred)
			if tt.wantErr {
				require.Error(err)
				assert.True(errors.Is(err, ErrUnsupportedChallengeMethod))
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestProvider_AuthURL(t *testing.T) {
	ctx := context.Background()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		r, err := NewRequest(2*time.Minute, "https://example.com/callback")
		require.NoError(err)

		authURL, err := p.AuthURL(ctx, r, nil)
		require.NoError(err)
		u, err := url.Parse(authURL)
		require.NoError(err)
		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal(r.State(), q.Get("state"))
		assert.Equal(r.Nonce(), q.Get("nonce"))
		assert.Equal("openid", q.Get("scope"))
		assert.Equal("https://example.com/callback", q.Get("redirect_uri"))
		assert.Empty(q.Get("code_challenge"))
	})
	t.Run("with-pkce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		v, err := NewCodeVerifier()
		require.NoError(err)
		r, err := NewRequest(2*time.Minute, "https://example.com/callback", WithPKCE(v))
		require.NoError(err)

		authURL, err := p.AuthURL(ctx, r, nil)
		require.NoError(err)
		u, err := url.Parse(authURL)
		require.NoError(err)
		q := u.Query()
		assert.Equal(v.Challenge(), q.Get("code_challenge"))
		assert.Equal(string(S256), q.Get("code_challenge_method"))
	})
	t.Run("with-ui-locales-and-scopes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		r, err := NewRequest(2*time.Minute, "https://example.com/callback",
			WithScopes("profile", "openid"),
			WithUILocales(language.German, language.English))
		require.NoError(err)

		authURL, err := p.AuthURL(ctx, r, nil)
		require.NoError(err)
		u, err := url.Parse(authURL)
		require.NoError(err)
		q := u.Query()
		assert.Equal("openid profile", q.Get("scope"))
		assert.Equal("de en", q.Get("ui_locales"))
	})
	t.Run("extra-params", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		r, err := NewRequest(2*time.Minute, "https://example.com/callback")
		require.NoError(err)

		authURL, err := p.AuthURL(ctx, r, map[string]string{
			"prompt": "login",
			"state":  "attacker-controlled",
		})
		require.NoError(err)
		u, err := url.Parse(authURL)
		require.NoError(err)
		q := u.Query()
		assert.Equal("login", q.Get("prompt"))
		// the generated state cannot be overridden by a caller parameter
		assert.Equal(r.State(), q.Get("state"))
	})
	t.Run("nil-request", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.AuthURL(ctx, nil, nil)
		require.Error(err)
		require.True(errors.Is(err, ErrNilParameter))
	})
}

func TestProvider_Exchange(t *testing.T) {
	ctx := context.Background()
	newChecks := func(t *testing.T, tp *TestProvider) *AuthorizationChecks {
		t.Helper()
		r, err := NewRequest(2*time.Minute, "https://example.com/callback")
		require.NoError(t, err)
		tp.SetExpectedAuthNonce(r.Nonce())
		return r.Checks()
	}
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		p := testNewProvider(t, tp)
		checks := newChecks(t, tp)

		ts, err := p.Exchange(ctx, checks, checks.State, "test-code", nil)
		require.NoError(err)
		require.NotNil(ts)
		assert.NotEmpty(ts.IDToken)
		assert.NotEmpty(ts.AccessToken)
		assert.Equal(RefreshToken("test-refresh-token"), ts.RefreshToken)
		assert.False(ts.Expired())
	})
	t.Run("nil-checks", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.Exchange(ctx, nil, "st_x", "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrMissingAuthorizationChecks))
	})
	t.Run("state-mismatch", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		p := testNewProvider(t, tp)
		checks := newChecks(t, tp)

		_, err := p.Exchange(ctx, checks, "st_other", "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrResponseStateInvalid))
	})
	t.Run("expired-checks", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		p := testNewProvider(t, tp)
		checks := newChecks(t, tp)
		checks.ExpiresAt = time.Now().Add(-1 * time.Hour).Unix()

		_, err := p.Exchange(ctx, checks, checks.State, "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrExpiredRequest))
	})
	t.Run("missing-id-token", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		tp.OmitIDTokens()
		p := testNewProvider(t, tp)
		checks := newChecks(t, tp)

		_, err := p.Exchange(ctx, checks, checks.State, "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrMissingIDToken))
	})
	t.Run("wrong-nonce", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetExpectedAuthNonce("n_other")
		p := testNewProvider(t, tp)
		r, err := NewRequest(2*time.Minute, "https://example.com/callback")
		require.NoError(err)
		checks := r.Checks()

		_, err = p.Exchange(ctx, checks, checks.State, "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidNonce))
	})
	t.Run("wrong-audience", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.SetExpectedAuthCode("test-code")
		tp.SetCustomAudience("some-other-client")
		p := testNewProvider(t, tp, WithAudiences("test-client-id"))
		checks := newChecks(t, tp)

		_, err := p.Exchange(ctx, checks, checks.State, "test-code", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidAudience))
	})
}

func TestProvider_RefreshToken(t *testing.T) {
	ctx := context.Background()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)

		ts, err := p.RefreshToken(ctx, "test-refresh-token", nil)
		require.NoError(err)
		require.NotNil(ts)
		assert.NotEmpty(ts.AccessToken)
		assert.NotEmpty(ts.IDToken)
		assert.False(ts.Expired())
		// not rotated by the provider: the exchanged token is carried over
		assert.Equal(RefreshToken("test-refresh-token"), ts.RefreshToken)
	})
	t.Run("rotated", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetRotatedRefreshToken("rotated-refresh-token")
		p := testNewProvider(t, tp)

		ts, err := p.RefreshToken(ctx, "test-refresh-token", nil)
		require.NoError(err)
		assert.Equal(RefreshToken("rotated-refresh-token"), ts.RefreshToken)
	})
	t.Run("empty-token", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.RefreshToken(ctx, "", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrMissingRefreshToken))
	})
	t.Run("unknown-token", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, err := p.RefreshToken(ctx, "some-other-token", nil)
		require.Error(err)
		require.Contains(err.Error(), "invalid_grant")
	})
}

func TestProvider_EndSessionURL(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)

		got, err := p.EndSessionURL("raw-id-token", map[string]string{
			"post_logout_redirect_uri": "https://example.com/loggedout",
			"state":                    "st_logout",
		})
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("/logout", u.Path)
		q := u.Query()
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal("raw-id-token", q.Get("id_token_hint"))
		assert.Equal("https://example.com/loggedout", q.Get("post_logout_redirect_uri"))
		assert.Equal("st_logout", q.Get("state"))
	})
	t.Run("no-hint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		got, err := p.EndSessionURL("", nil)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Empty(u.Query().Get("id_token_hint"))
	})
	t.Run("missing-endpoint", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.OmitEndSessionEndpoint()
		p := testNewProvider(t, tp)
		_, err := p.EndSessionURL("raw-id-token", nil)
		require.Error(err)
		require.True(errors.Is(err, ErrMissingEndSessionEndpoint))
	})
}

func TestProvider_VerifyIDToken(t *testing.T) {
	ctx := context.Background()
	t.Run("basics", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, priv := tp.SigningKeys()
		claims := TestDefaultClaims(t, tp.Addr(), "alice@example.com", []string{"test-client-id"}, 5*time.Minute)
		claims["nonce"] = "n_test"
		raw := TestSignJWT(t, priv, claims)

		require.NoError(p.VerifyIDToken(ctx, IDToken(raw), "n_test"))
	})
	t.Run("wrong-nonce", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, priv := tp.SigningKeys()
		claims := TestDefaultClaims(t, tp.Addr(), "alice@example.com", []string{"test-client-id"}, 5*time.Minute)
		claims["nonce"] = "n_other"
		raw := TestSignJWT(t, priv, claims)

		err := p.VerifyIDToken(ctx, IDToken(raw), "n_test")
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidNonce))
	})
	t.Run("empty-nonce", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		err := p.VerifyIDToken(ctx, "raw-id-token", "")
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("tampered", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		_, priv := tp.SigningKeys()
		claims := TestDefaultClaims(t, tp.Addr(), "alice@example.com", []string{"test-client-id"}, 5*time.Minute)
		claims["nonce"] = "n_test"
		raw := TestSignJWT(t, priv, claims)

		err := p.VerifyIDToken(ctx, IDToken(raw+"tampered"), "n_test")
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidSignature))
	})
}

func TestProvider_UserInfo(t *testing.T) {
	ctx := context.Background()
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: "raw-access-token",
			TokenType:   "Bearer",
		})
		var claims map[string]interface{}
		require.NoError(p.UserInfo(ctx, tokenSource, &claims))
		assert.Equal("alice@example.com", claims["email"])
	})
	t.Run("disabled", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		tp.DisableUserInfo()
		p := testNewProvider(t, tp)
		tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "raw-access-token"})
		var claims map[string]interface{}
		err := p.UserInfo(ctx, tokenSource, &claims)
		require.Error(err)
		require.True(errors.Is(err, ErrUserInfoFailed))
	})
	t.Run("nil-token-source", func(t *testing.T) {
		require := require.New(t)
		tp := StartTestProvider(t)
		p := testNewProvider(t, tp)
		var claims map[string]interface{}
		err := p.UserInfo(ctx, nil, &claims)
		require.Error(err)
		require.True(errors.Is(err, ErrNilParameter))
	})
}
