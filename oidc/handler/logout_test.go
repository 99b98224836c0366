package handler

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcware/oidcware/oidc"
)

func TestLogout(t *testing.T) {
	t.Run("construction-errors", func(t *testing.T) {
		require := require.New(t)
		tp := oidc.StartTestProvider(t)
		p := testProvider(t, tp)
		_, err := Logout(nil, LogoutConfig{Read: testStaticReader(nil)})
		require.Error(err)
		_, err = Logout(p, LogoutConfig{})
		require.Error(err)
		_, err = Logout(p, LogoutConfig{
			Read:       testStaticReader(nil),
			Params:     Params{"state": "st_logout"},
			ParamsFunc: func(http.ResponseWriter, *http.Request) (Params, error) { return nil, nil },
		})
		require.Error(err)
	})
	t.Run("redirects-to-end-session", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		p := testProvider(t, tp)
		h, err := Logout(p, LogoutConfig{
			Read: testStaticReader(&oidc.TokenSet{IDToken: "raw-id-token"}),
			Params: Params{
				"post_logout_redirect_uri": "https://example.com/loggedout",
				"state":                    "st_logout",
			},
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/logout", nil))
		require.Equal(http.StatusFound, rr.Code)
		loc, err := url.Parse(rr.Header().Get("Location"))
		require.NoError(err)
		assert.True(strings.HasPrefix(rr.Header().Get("Location"), tp.Addr()))
		q := loc.Query()
		assert.Equal("raw-id-token", q.Get("id_token_hint"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal("https://example.com/loggedout", q.Get("post_logout_redirect_uri"))
		assert.Equal("st_logout", q.Get("state"))
	})
	t.Run("redirects-without-token-set", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp := oidc.StartTestProvider(t)
		p := testProvider(t, tp)
		h, err := Logout(p, LogoutConfig{Read: testStaticReader(nil)})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/logout", nil))
		require.Equal(http.StatusFound, rr.Code)
		loc, err := url.Parse(rr.Header().Get("Location"))
		require.NoError(err)
		assert.Empty(loc.Query().Get("id_token_hint"))
	})
	t.Run("post-logout-callback", func(t *testing.T) {
		require := require.New(t)
		tp := oidc.StartTestProvider(t)
		p := testProvider(t, tp)
		sink := &testSinkRecorder{}
		h, err := Logout(p, LogoutConfig{
			Read:   testStaticReader(&oidc.TokenSet{IDToken: "raw-id-token"}),
			Params: Params{"post_logout_redirect_uri": "https://example.com/loggedout"},
			Sink:   sink.sink,
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/loggedout", nil))
		require.Equal(http.StatusOK, rr.Code)
		require.True(sink.called)
		require.Empty(rr.Header().Get("Location"))
	})
	t.Run("invalid-post-logout-redirect-uri", func(t *testing.T) {
		require := require.New(t)
		tp := oidc.StartTestProvider(t)
		p := testProvider(t, tp)
		h, err := Logout(p, LogoutConfig{
			Read:   testStaticReader(nil),
			Params: Params{"post_logout_redirect_uri": "/relative/path"},
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/logout", nil))
		require.Equal(http.StatusBadRequest, rr.Code)
	})
	t.Run("no-end-session-endpoint", func(t *testing.T) {
		require := require.New(t)
		tp := oidc.StartTestProvider(t)
		tp.OmitEndSessionEndpoint()
		p := testProvider(t, tp)
		h, err := Logout(p, LogoutConfig{Read: testStaticReader(nil)})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/logout", nil))
		require.Equal(http.StatusInternalServerError, rr.Code)
	})
}
