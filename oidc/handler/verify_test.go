package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

func testStaticReader(ts *oidc.TokenSet) TokenReader {
	return func(*http.Request) (*oidc.TokenSet, error) {
		return ts, nil
	}
}

func testVerifySpec(t *testing.T, pub string) *jwt.Spec {
	t.Helper()
	ks, err := jwt.NewStaticKeySet([]string{pub})
	require.NoError(t, err)
	return &jwt.Spec{
		KeySet: ks,
		Tokens: []jwt.TokenKind{jwt.IDTokenKind, jwt.AccessTokenKind},
	}
}

func TestVerify(t *testing.T) {
	pub, priv := oidc.TestGenerateKeys(t)
	signed := func(t *testing.T) string {
		claims := oidc.TestDefaultClaims(t, "https://accounts.example.com", "alice@example.com", []string{"test-client-id"}, 5*time.Minute)
		return oidc.TestSignJWT(t, priv, claims)
	}

	t.Run("construction-errors", func(t *testing.T) {
		require := require.New(t)
		_, err := Verify(VerifyConfig{Read: testStaticReader(nil)})
		require.Error(err)
		_, err = Verify(VerifyConfig{Verify: testVerifySpec(t, pub)})
		require.Error(err)
	})
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		raw := signed(t)
		sink := &testSinkRecorder{}
		var nextCalled bool
		h, err := Verify(VerifyConfig{
			Verify: testVerifySpec(t, pub),
			Read:   testStaticReader(&oidc.TokenSet{IDToken: oidc.IDToken(raw)}),
			Sink:   sink.sink,
			Next: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				nextCalled = true
			}),
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/protected", nil))
		require.Equal(http.StatusOK, rr.Code)
		require.True(sink.called)
		assert.Contains(sink.verified, jwt.IDTokenKind)
		assert.True(nextCalled)
	})
	t.Run("tampered-token", func(t *testing.T) {
		require := require.New(t)
		raw := signed(t)
		sink := &testSinkRecorder{}
		var nextCalled bool
		h, err := Verify(VerifyConfig{
			Verify: testVerifySpec(t, pub),
			Read:   testStaticReader(&oidc.TokenSet{IDToken: oidc.IDToken(raw + "tampered")}),
			Sink:   sink.sink,
			Next: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				nextCalled = true
			}),
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/protected", nil))
		require.Equal(http.StatusUnauthorized, rr.Code)
		require.False(sink.called)
		require.False(nextCalled)
	})
	t.Run("empty-set-passes", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		sink := &testSinkRecorder{}
		h, err := Verify(VerifyConfig{
			Verify: testVerifySpec(t, pub),
			Read:   testStaticReader(nil),
			Sink:   sink.sink,
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/protected", nil))
		require.Equal(http.StatusOK, rr.Code)
		require.True(sink.called)
		assert.Empty(sink.verified)
	})
	t.Run("reader-error", func(t *testing.T) {
		require := require.New(t)
		h, err := Verify(VerifyConfig{
			Verify: testVerifySpec(t, pub),
			Read: func(*http.Request) (*oidc.TokenSet, error) {
				return nil, errors.New("session store down")
			},
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/protected", nil))
		require.Equal(http.StatusInternalServerError, rr.Code)
	})
	t.Run("custom-error-func", func(t *testing.T) {
		require := require.New(t)
		raw := signed(t)
		var gotErr error
		h, err := Verify(VerifyConfig{
			Verify: testVerifySpec(t, pub),
			Read:   testStaticReader(&oidc.TokenSet{IDToken: oidc.IDToken(raw + "tampered")}),
			Error: func(w http.ResponseWriter, _ *http.Request, err error) {
				gotErr = err
				w.WriteHeader(http.StatusTeapot)
			},
		})
		require.NoError(err)

		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest("GET", "/protected", nil))
		require.Equal(http.StatusTeapot, rr.Code)
		require.True(errors.Is(gotErr, jwt.ErrInvalidSignature))
	})
}
