/*
jwt provides signature verification and claims validation for the token sets
produced by OIDC flows.

A KeySet represents the key material used to verify signatures. Key sets may
be local (StaticKeySet), remote with caching (RemoteKeySet, CachedKeySet,
OIDCDiscoveryKeySet) or fully caller-defined (KeySetFunc); all arms behave
identically with respect to error propagation.

VerifyTokenSet applies a Spec (key set, ordered token kinds, expected claim
values) to an oidc.TokenSet, producing a VerifiedSet with the decoded header
and claims per verified token kind. Token kinds absent from the set are
silently skipped; the first kind that fails verification aborts the call.
*/
package jwt
