package handler

import (
	"net/http"
)

// Params are additional string-keyed request parameters for the
// authorization, token or end-session endpoints. They are constructed fresh
// per request and never persisted.
type Params map[string]string

// ParamsFunc computes Params per inbound request, for callers whose
// parameters depend on the request (tenant, locale, return-to target, ...).
type ParamsFunc func(w http.ResponseWriter, r *http.Request) (Params, error)

// resolveParams resolves the static-or-dynamic parameter union at the point
// of use: a non-nil fn wins, a nil fn falls back to the static mapping (which
// may itself be nil). It has no side effects; fn failures propagate to the
// caller.
func resolveParams(static Params, fn ParamsFunc, w http.ResponseWriter, r *http.Request) (Params, error) {
	if fn != nil {
		return fn(w, r)
	}
	return static, nil
}
