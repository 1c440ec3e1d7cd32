package auth

import "time"

// AuthSource identifies which validation path produced an Identity.
type AuthSource string

const (
	// SourceInternal marks tokens minted by this service (HS256, local secret).
	SourceInternal AuthSource = "internal"
	// SourceProvider marks tokens minted by the external OIDC provider and
	// verified against its published key set.
	SourceProvider AuthSource = "provider"
)

// Identity is the outcome of a successful token validation. It is constructed
// once per request and never persisted.
type Identity struct {
	Subject   string
	Roles     []string
	Email     string
	Name      string
	Source    AuthSource
	ExpiresAt time.Time
}

// HasRole reports whether the identity holds the given role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}
