package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"gopkg.in/square/go-jose.v2/jwt"
)

// KeySet represents a set of keys that can be used to verify the signatures
// of JWTs. A KeySet is expected to be backed by a set of local or remote
// keys.
type KeySet interface {
	// VerifySignature parses the given JWT, verifies its signature, and
	// returns the claims in its payload. The given JWT must be of the JWS
	// compact serialization form.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// KeySetFunc is an adapter to allow the use of an ordinary (possibly
// asynchronous, e.g. performing a remote fetch per call) key resolution
// function as a KeySet.
type KeySetFunc func(ctx context.Context, token string) (map[string]interface{}, error)

// VerifySignature calls fn(ctx, token).
func (fn KeySetFunc) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	return fn(ctx, token)
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	publicKeys []interface{}
}

// NewStaticKeySet returns a KeySet that verifies JWT signatures using
// PEM-encoded public keys. The given publicKeys must be of PEM-encoded x509
// certificate or PKIX public key forms.
func NewStaticKeySet(publicKeys []string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys provided: %w", op, ErrInvalidParameter)
	}
	parsed := make([]interface{}, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := parsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		parsed = append(parsed, key)
	}
	return &StaticKeySet{publicKeys: parsed}, nil
}

// VerifySignature parses the given JWT, verifies its signature using the
// local PEM-encoded public keys, and returns the claims in its payload.
func (ks *StaticKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	const op = "StaticKeySet.VerifySignature"
	parsedJWT, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse token: %w", op, ErrMalformedToken)
	}

	allClaims := map[string]interface{}{}
	for _, key := range ks.publicKeys {
		if err := parsedJWT.Claims(key, &allClaims); err == nil {
			return allClaims, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, ErrInvalidSignature)
}

// RemoteKeySet verifies JWT signatures using keys obtained from a JWKS URL.
type RemoteKeySet struct {
	remoteJWKS oidc.KeySet
}

// NewRemoteKeySet returns a KeySet that verifies JWT signatures using keys
// from the JSON Web Key Set (JWKS) at the given jwksURL. The client used to
// obtain the remote JWKS will verify server certificates using the root
// certificates provided by jwksCAPEM, when not empty.
func NewRemoteKeySet(ctx context.Context, jwksURL string, jwksCAPEM string) (*RemoteKeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwksURL is empty: %w", op, ErrInvalidParameter)
	}
	caCtx, err := createCAContext(ctx, jwksCAPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &RemoteKeySet{
		remoteJWKS: oidc.NewRemoteKeySet(caCtx, jwksURL),
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using the
// remote JWKS keys, and returns the claims in its payload.
func (ks *RemoteKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "RemoteKeySet.VerifySignature"
	payload, err := ks.remoteJWKS.VerifySignature(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return allClaims, nil
}

// OIDCDiscoveryKeySet verifies JWT signatures using keys obtained via the
// OIDC discovery mechanism.
type OIDCDiscoveryKeySet struct {
	provider *oidc.Provider
}

// NewOIDCDiscoveryKeySet returns a KeySet that verifies JWT signatures using
// keys from the JSON Web Key Set (JWKS) published in the discovery document
// at the given issuer. The client used to obtain the remote keys will verify
// server certificates using the root certificates provided by
// discoveryCAPEM, when not empty.
func NewOIDCDiscoveryKeySet(ctx context.Context, issuer string, discoveryCAPEM string) (*OIDCDiscoveryKeySet, error) {
	const op = "jwt.NewOIDCDiscoveryKeySet"
	if issuer == "" {
		return nil, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidParameter)
	}
	caCtx, err := createCAContext(ctx, discoveryCAPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	provider, err := oidc.NewProvider(caCtx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create provider: %w", op, err)
	}
	return &OIDCDiscoveryKeySet{provider: provider}, nil
}

// VerifySignature parses the given JWT, verifies its signature using the
// discovered JWKS keys, and returns the claims in its payload.
func (ks *OIDCDiscoveryKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "OIDCDiscoveryKeySet.VerifySignature"

	// verify only the signature: claims are validated separately so that all
	// KeySet implementations behave identically
	oidcConfig := &oidc.Config{
		SkipClientIDCheck: true,
		SkipExpiryCheck:   true,
		SkipIssuerCheck:   true,
	}
	verifier := ks.provider.Verifier(oidcConfig)
	idToken, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}

	allClaims := map[string]interface{}{}
	if err := idToken.Claims(&allClaims); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return allClaims, nil
}

// DefaultMinRefreshInterval is the default minimum interval between remote
// JWKS refreshes for a CachedKeySet.
const DefaultMinRefreshInterval = 15 * time.Minute

// CachedKeySet verifies JWT signatures using keys from a JWKS URL, kept fresh
// by an auto-refreshing cache. It avoids a remote fetch per verification.
type CachedKeySet struct {
	cache   *jwk.Cache
	jwksURL string
}

// NewCachedKeySet returns a KeySet backed by an auto-refreshing cache of the
// JWKS at jwksURL. The cache refreshes per the key set's cache-control
// headers, but never more often than minRefreshInterval (which defaults to
// DefaultMinRefreshInterval when <= 0). The initial fetch happens here, so a
// bad URL fails fast. The given ctx bounds the lifetime of the background
// refresher.
func NewCachedKeySet(ctx context.Context, jwksURL string, minRefreshInterval time.Duration) (*CachedKeySet, error) {
	const op = "jwt.NewCachedKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwksURL is empty: %w", op, ErrInvalidParameter)
	}
	if minRefreshInterval <= 0 {
		minRefreshInterval = DefaultMinRefreshInterval
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(minRefreshInterval)); err != nil {
		return nil, fmt.Errorf("%s: unable to register jwks url: %w", op, err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("%s: unable to fetch keys: %w", op, err)
	}
	return &CachedKeySet{
		cache:   cache,
		jwksURL: jwksURL,
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using the
// cached JWKS keys, and returns the claims in its payload.
func (ks *CachedKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	const op = "CachedKeySet.VerifySignature"
	set, err := ks.cache.Get(ctx, ks.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to get key set: %w", op, err)
	}
	payload, err := jws.Verify([]byte(token), jws.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrInvalidSignature, err)
	}
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal claims: %w", op, err)
	}
	return allClaims, nil
}

// parsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs.
func parsePublicKeyPEM(data []byte) (interface{}, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("data does not contain any valid public keys: %w", ErrInvalidParameter)
	}
	rawKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		cert, certErr := x509.ParseCertificate(block.Bytes)
		if certErr != nil {
			return nil, fmt.Errorf("unable to parse public key: %w", ErrInvalidParameter)
		}
		rawKey = cert.PublicKey
	}
	switch rawKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return rawKey, nil
	}
	return nil, fmt.Errorf("unsupported public key type %T: %w", rawKey, ErrInvalidParameter)
}

// createCAContext returns a context with a custom TLS client that's
// configured with the root certificates from caPEM. If no certificates are
// configured, the original context is returned.
func createCAContext(ctx context.Context, caPEM string) (context.Context, error) {
	if caPEM == "" {
		return ctx, nil
	}
	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
		return nil, fmt.Errorf("could not parse CA PEM value: %w", ErrInvalidCACert)
	}
	tr := cleanhttp.DefaultPooledTransport()
	tr.TLSClientConfig = &tls.Config{
		RootCAs: certPool,
	}
	client := &http.Client{
		Transport: tr,
	}
	return oidc.ClientContext(ctx, client), nil
}
