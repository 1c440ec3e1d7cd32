package auth

import "errors"

// Error taxonomy for the authentication subsystem. Every failure surfaced to
// a handler maps onto one of these sentinels; handlers convert them to a
// generic client-facing failure and keep the detail in the audit record.
var (
	SessionNotFoundErr = errors.New("session not found")
	NonceMismatchErr   = errors.New("nonce mismatch")
	KeyFetchFailedErr  = errors.New("key set fetch failed")
	UnknownKeyErr      = errors.New("unknown signing key")
	TokenExpiredErr    = errors.New("token expired")
	BadSignatureErr    = errors.New("bad token signature")
	UnknownIssuerErr   = errors.New("unknown token issuer")
	BadAudienceErr     = errors.New("bad token audience")
	MalformedTokenErr  = errors.New("malformed token")
	BlacklistedErr     = errors.New("token revoked")
	AccessDeniedErr    = errors.New("access denied")
)
