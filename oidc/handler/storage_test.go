package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcware/oidcware/oidc"
)

func TestMemoryCheckStorage(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/login", nil)

	t.Run("set-get-delete", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := &MemoryCheckStorage{}
		checks := &oidc.AuthorizationChecks{State: "st_1", Nonce: "n_1"}
		require.NoError(s.Set(w, r, "key", checks))

		got, err := s.Get(r, "key")
		require.NoError(err)
		require.NotNil(got)
		assert.Equal("st_1", got.State)

		require.NoError(s.Delete(w, r, "key"))
		got, err = s.Get(r, "key")
		require.NoError(err)
		assert.Nil(got)
	})
	t.Run("missing-is-nil-nil", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := &MemoryCheckStorage{}
		got, err := s.Get(r, "never-set")
		require.NoError(err)
		assert.Nil(got)
		require.NoError(s.Delete(w, r, "never-set"))
	})
	t.Run("get-returns-copy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s := &MemoryCheckStorage{}
		require.NoError(s.Set(w, r, "key", &oidc.AuthorizationChecks{State: "st_1", Nonce: "n_1"}))
		got, err := s.Get(r, "key")
		require.NoError(err)
		got.State = "st_mutated"

		again, err := s.Get(r, "key")
		require.NoError(err)
		assert.Equal("st_1", again.State)
	})
	t.Run("nil-checks", func(t *testing.T) {
		require := require.New(t)
		s := &MemoryCheckStorage{}
		require.Error(s.Set(w, r, "key", nil))
	})
}
