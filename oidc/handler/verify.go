package handler

import (
	"fmt"
	"net/http"

	"github.com/oidcware/oidcware/jwt"
	"github.com/oidcware/oidcware/oidc"
)

// VerifyConfig configures a Verify handler.
type VerifyConfig struct {
	// Verify describes the key material, token kinds and expected claims.
	// Required.
	Verify *jwt.Spec

	// Read obtains the current token set. Required.
	Read TokenReader

	// Sink, when set, receives the token set and its verification outcome.
	Sink TokenSink

	// Error creates failure responses. Defaults to DefaultErrorResponse
	// (verification failures map to 401).
	Error ErrorFunc

	// Next, when set, is invoked after a successful verification, allowing
	// the gate to be chained in front of a protected resource handler.
	Next http.Handler
}

// Verify creates a single-phase request gate: read the token set, verify it
// per the configured spec, hand the outcome to the sink. Token kinds missing
// from the set are skipped without error; a token that IS present but fails
// verification aborts the request through the Error func.
func Verify(c VerifyConfig) (http.HandlerFunc, error) {
	const op = "handler.Verify"
	if c.Verify == nil {
		return nil, fmt.Errorf("%s: verification spec is nil: %w", op, oidc.ErrNilParameter)
	}
	if c.Read == nil {
		return nil, fmt.Errorf("%s: token reader is nil: %w", op, oidc.ErrNilParameter)
	}
	errFn := c.Error
	if errFn == nil {
		errFn = DefaultErrorResponse
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ts, err := c.Read(r)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: unable to read token set: %w", op, err))
			return
		}
		verified, err := jwt.VerifyTokenSet(r.Context(), ts, c.Verify)
		if err != nil {
			errFn(w, r, fmt.Errorf("%s: %w", op, err))
			return
		}
		if c.Sink != nil {
			if err := c.Sink(w, r, ts, verified); err != nil {
				errFn(w, r, fmt.Errorf("%s: sink failed: %w", op, err))
				return
			}
		}
		if c.Next != nil {
			c.Next.ServeHTTP(w, r)
		}
	}, nil
}
