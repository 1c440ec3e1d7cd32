// Package sessions holds the short-lived store of in-flight OIDC login
// attempts. A session ties the login redirect and the provider callback
// together: its ID travels as the state parameter, its nonce must come back
// inside the ID token, and its PKCE verifier is presented at code exchange.
package sessions

import "time"

// Session is one in-flight browser login attempt.
type Session struct {
	// ID is the opaque lookup key, embedded in the state parameter.
	ID string
	// Nonce is bound to this attempt and checked against the nonce claim of
	// the returned ID token.
	Nonce string
	// PKCEVerifier is the secret counterpart of the challenge sent in the
	// authorization request.
	PKCEVerifier string
	CreatedAt    time.Time
}

// Store is the session repository contract. Consume is atomic: of two
// concurrent calls with the same ID exactly one receives the session, the
// other SessionNotFoundErr.
type Store interface {
	Create() (Session, error)
	Consume(id string) (Session, error)
}
