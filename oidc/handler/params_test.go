package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveParams(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/login?tenant=acme", nil)

	t.Run("static", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := resolveParams(Params{"prompt": "login"}, nil, w, r)
		require.NoError(err)
		assert.Equal(Params{"prompt": "login"}, got)
	})
	t.Run("nil-both", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := resolveParams(nil, nil, w, r)
		require.NoError(err)
		assert.Nil(got)
	})
	t.Run("func-wins", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fn := func(_ http.ResponseWriter, r *http.Request) (Params, error) {
			return Params{"tenant": r.URL.Query().Get("tenant")}, nil
		}
		got, err := resolveParams(Params{"tenant": "static"}, fn, w, r)
		require.NoError(err)
		assert.Equal(Params{"tenant": "acme"}, got)
	})
	t.Run("func-error", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		wantErr := errors.New("no tenant")
		fn := func(http.ResponseWriter, *http.Request) (Params, error) {
			return nil, wantErr
		}
		got, err := resolveParams(nil, fn, w, r)
		require.Error(err)
		assert.Nil(got)
		assert.True(errors.Is(err, wantErr))
	})
}
