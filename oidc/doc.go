/*
oidc is a package for integrating with OIDC providers using the 3-legged
authorization code flow, with optional PKCE.

Primary types provided by the package:

* Request: represents one OIDC authentication flow for a user. It contains
the data needed to uniquely represent that one-time flow across the multiple
interactions needed to complete it. All Requests contain an expiration, a
State and a Nonce, and optionally a PKCE CodeVerifier.

* AuthorizationChecks: the serializable callback-binding portion of a Request
(state, nonce, PKCE verifier), persisted across the authorization redirect
and consumed exactly once when the provider's callback arrives.

* TokenSet: represents an OIDC id_token, as well as an oauth2 access_token
and refresh_token (including the access_token expiry in epoch seconds) plus
any provider specific extension members.

* Config: provides the configuration for a typical 3-legged OIDC
authorization code flow (client ID/Secret, redirect URL, supported signing
algorithms, additional scopes requested, etc).

* Provider: provides integration with a provider using the typical 3-legged
OIDC authorization code flow: generating an auth URL, exchanging codes for
tokens, refresh token grants, building RP-initiated logout URLs, verifying
id_tokens and making user info requests.

* Alg: represents asymmetric signing algorithms.

The oidc/handler package builds on this one with ready made http.HandlerFunc
middleware for the login, verify, refresh and logout legs of the flow. The
jwt package provides general token-set verification against local or remote
key sets.
*/
package oidc
