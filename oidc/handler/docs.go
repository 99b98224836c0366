/*
handler provides http.HandlerFunc middleware for embedding the OIDC
authorization code flow into an HTTP server: Login (authorization redirect
plus callback), Verify (token-set gate), Refresh (conditional refresh-token
grant) and Logout (RP-initiated logout plus post-logout callback).

The handlers are agnostic to how tokens and per-flow state are persisted:
callers supply a narrow CheckStorage capability for the callback-binding
state, and TokenReader/TokenSink funcs for the token set (cookie, encrypted
session, header... the handlers don't care). Failures are surfaced through a
pluggable ErrorFunc, so the host application owns the mapping from error kind
to response; DefaultErrorResponse provides a sensible mapping when none is
supplied.
*/
package handler
