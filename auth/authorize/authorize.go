// Package authorize decides whether an authenticated identity may reach a
// resource. Decisions are pure role checks; enforcement lives in the HTTP
// middleware.
package authorize

import (
	"strings"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
)

// Authorizer checks role requirements and records denials.
type Authorizer struct {
	recorder audit.Recorder
}

// New creates an Authorizer.
func New(recorder audit.Recorder) *Authorizer {
	return &Authorizer{recorder: recorder}
}

// Require grants access when the identity holds at least one of the required
// roles. An empty requirement means any authenticated identity passes. A
// denial emits an ACCESS_DENIED audit record naming the resource and the
// roles the identity lacked.
func (a *Authorizer) Require(identity auth.Identity, resource string, requiredRoles ...string) error {
	if len(requiredRoles) == 0 {
		return nil
	}

	for _, role := range requiredRoles {
		if identity.HasRole(role) {
			return nil
		}
	}

	a.recorder.Record(audit.NewEvent(audit.EventAccessDenied, identity.Subject, false).
		WithResource(resource).
		WithDetail("missing required roles: " + strings.Join(requiredRoles, ", ")).
		WithAuthMethod(string(identity.Source)))

	return auth.AccessDeniedErr
}
