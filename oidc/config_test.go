package oidc

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig(
			"https://accounts.example.com",
			"client-id", "client-secret",
			[]Alg{RS256, ES256},
			"https://rp.example.com/callback",
		)
		require.NoError(err)
		assert.Equal("https://accounts.example.com", c.Issuer)
		assert.Equal("client-id", c.ClientID)
		assert.Equal(ClientSecret("client-secret"), c.ClientSecret)
		assert.NotNil(c.Logger)
	})
	t.Run("with-options", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		nowFunc := func() time.Time { return time.Unix(0, 0) }
		c, err := NewConfig(
			"https://accounts.example.com",
			"client-id", "client-secret",
			[]Alg{ES256},
			"https://rp.example.com/callback",
			WithScopes("profile", "email"),
			WithAudiences("aud1", "aud2"),
			WithEndSessionEndpoint("https://accounts.example.com/end-session"),
			WithLogger(hclog.NewNullLogger()),
			WithNow(nowFunc),
		)
		require.NoError(err)
		assert.Equal([]string{"profile", "email"}, c.Scopes)
		assert.Equal([]string{"aud1", "aud2"}, c.Audiences)
		assert.Equal("https://accounts.example.com/end-session", c.EndSessionEndpoint)
		assert.Equal(time.Unix(0, 0), c.Now())
	})
	t.Run("invalid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := NewConfig("ldap://accounts.example.com", "client-id", "client-secret", []Alg{RS256}, "https://rp.example.com/callback")
		require.Error(err)
		assert.Nil(c)
		assert.True(errors.Is(err, ErrInvalidIssuer))
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Issuer:               "https://accounts.example.com",
			ClientID:             "client-id",
			ClientSecret:         "client-secret",
			SupportedSigningAlgs: []Alg{RS256},
			RedirectURL:          "https://rp.example.com/callback",
		}
	}
	t.Run("valid", func(t *testing.T) {
		require := require.New(t)
		require.NoError(valid().Validate())
	})
	t.Run("nil-config", func(t *testing.T) {
		require := require.New(t)
		var c *Config
		err := c.Validate()
		require.Error(err)
		require.True(errors.Is(err, ErrNilParameter))
	})
	t.Run("accumulates-violations", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := valid()
		c.ClientID = ""
		c.ClientSecret = ""
		err := c.Validate()
		require.Error(err)
		// both violations are reported, not just the first
		assert.True(errors.Is(err, ErrInvalidParameter))
		assert.Contains(err.Error(), "client id is empty")
		assert.Contains(err.Error(), "client secret is empty")
	})
	t.Run("bad-issuer-scheme", func(t *testing.T) {
		require := require.New(t)
		c := valid()
		c.Issuer = "ldap://accounts.example.com"
		err := c.Validate()
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidIssuer))
	})
	t.Run("empty-algs", func(t *testing.T) {
		require := require.New(t)
		c := valid()
		c.SupportedSigningAlgs = nil
		require.Error(c.Validate())
	})
	t.Run("unsupported-alg", func(t *testing.T) {
		require := require.New(t)
		c := valid()
		c.SupportedSigningAlgs = []Alg{Alg("HS256")}
		err := c.Validate()
		require.Error(err)
		require.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("empty-redirect-url", func(t *testing.T) {
		require := require.New(t)
		c := valid()
		c.RedirectURL = ""
		require.Error(c.Validate())
	})
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Run("no-ca", func(t *testing.T) {
		require := require.New(t)
		c := &Config{}
		client, err := c.HTTPClient()
		require.NoError(err)
		require.NotNil(client)
	})
	t.Run("with-ca", func(t *testing.T) {
		require := require.New(t)
		c := &Config{ProviderCA: TestGenerateCA(t, []string{"localhost"})}
		client, err := c.HTTPClient()
		require.NoError(err)
		require.NotNil(client)
	})
	t.Run("bad-ca", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c := &Config{ProviderCA: "not a pem"}
		client, err := c.HTTPClient()
		require.Error(err)
		assert.Nil(client)
		assert.True(errors.Is(err, ErrInvalidCACert))
	})
}

func TestClientSecret_Redaction(t *testing.T) {
	assert := assert.New(t)
	secret := ClientSecret("super-secret")
	assert.Equal(RedactedClientSecret, secret.String())
	got, err := secret.MarshalJSON()
	assert.NoError(err)
	assert.Equal(`"`+RedactedClientSecret+`"`, string(got))
}

func TestConfig_Log(t *testing.T) {
	assert := assert.New(t)

	var c *Config
	assert.NotNil(c.Log())

	c = &Config{}
	assert.NotNil(c.Log())

	want := hclog.New(&hclog.LoggerOptions{Name: "test"})
	c = &Config{Logger: want}
	assert.Equal(want, c.Log())
}
