package handler

import (
	"net/http"
	"sync"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// CheckStorage is the narrow session capability used to bind a flow's
// AuthorizationChecks to the client across the authorization redirect. Any
// persistence mechanism (encrypted cookie, server-side session store, signed
// URL state) can implement it; the handlers only need get/set/delete
// semantics with at-least request-scoped consistency.
//
// Implementations must be concurrently safe, since they will be used within
// a concurrent http.Handler.
type CheckStorage interface {
	// Set persists the checks under key.
	Set(w http.ResponseWriter, r *http.Request, key string, checks *oidc.AuthorizationChecks) error

	// Get reads the checks stored under key. A missing entry is reported as
	// (nil, nil), not an error.
	Get(r *http.Request, key string) (*oidc.AuthorizationChecks, error)

	// Delete removes the entry stored under key. Deleting a missing entry is
	// not an error.
	Delete(w http.ResponseWriter, r *http.Request, key string) error
}

// TokenReader reads the current token set for a request. Where the set comes
// from (header, cookie, session, request-attached cache) is the caller's
// concern. A missing set is reported as (nil, nil), not an error.
type TokenReader func(r *http.Request) (*oidc.TokenSet, error)

// TokenSink receives a token set (and its verification outcome, when a
// handler was configured to verify) after a handler's work succeeds. It
// owns the response side effect: persisting the set, redirecting, writing a
// body. A handler configured without a sink produces no response side effect
// of its own.
type TokenSink func(w http.ResponseWriter, r *http.Request, ts *oidc.TokenSet, verified jwt.VerifiedSet) error

// MemoryCheckStorage is an in-process CheckStorage. It is concurrently safe.
//
// Entries are keyed only by the storage key, with no per-client separation,
// which makes it suitable for tests and single-user tools; server deployments
// should implement CheckStorage over their session layer instead.
type MemoryCheckStorage struct {
	mu      sync.Mutex
	entries map[string]oidc.AuthorizationChecks
}

// Set implements CheckStorage.
func (s *MemoryCheckStorage) Set(_ http.ResponseWriter, _ *http.Request, key string, checks *oidc.AuthorizationChecks) error {
	if checks == nil {
		return oidc.ErrNilParameter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = map[string]oidc.AuthorizationChecks{}
	}
	s.entries[key] = *checks
	return nil
}

// Get implements CheckStorage, returning a copy of the stored checks.
func (s *MemoryCheckStorage) Get(_ *http.Request, key string) (*oidc.AuthorizationChecks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	checks, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	cp := checks
	return &cp, nil
}

// Delete implements CheckStorage.
func (s *MemoryCheckStorage) Delete(_ http.ResponseWriter, _ *http.Request, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
