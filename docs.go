// oidcware provides relying party building blocks for the OIDC
// Authorization Code flow: a Provider client with PKCE and RP-initiated
// logout support (package oidc), standalone JWT verification against local
// or remote key sets (package jwt), and framework-agnostic http handlers
// for login, token verification, refresh and logout (package oidc/handler).
package oidcware
