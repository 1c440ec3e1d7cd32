package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/healthguide/go-health-api/auth/audit"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type authInfoResponse struct {
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Source    string    `json:"source"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthHandler reports liveness. No auth, no body inspection.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// OidcLoginHandler starts the authorization-code flow and redirects the
// client to the provider.
func (s *Server) OidcLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.flow.BeginLogin()
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to start OIDC login")
			writeError(w, http.StatusInternalServerError, "server_error", "Could not start login")
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OidcCallbackHandler completes the flow. The response body never says which
// check failed; the audit trail carries the detail.
func (s *Server) OidcCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "Missing code or state parameter")
			return
		}

		result, err := s.flow.HandleCallback(r.Context(), code, state)
		if err != nil {
			s.logger.Warn().Err(err).Msg("OIDC callback rejected")
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication failed")
			return
		}

		writeJSON(w, http.StatusOK, result)
	}
}

// RefreshHandler exchanges a valid refresh token for a new access token. The
// refresh token itself is returned unchanged.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "Missing refresh_token")
			return
		}

		identity, err := s.validator.ValidateRefresh(req.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid refresh token")
			return
		}

		accessToken, err := s.tokens.CreateAccessToken(identity)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to mint access token on refresh")
			writeError(w, http.StatusInternalServerError, "server_error", "Could not issue token")
			return
		}

		s.recorder.Record(audit.NewEvent(audit.EventTokenRefresh, identity.Subject, true).
			WithAuthMethod(string(identity.Source)))

		writeJSON(w, http.StatusOK, refreshResponse{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int(s.tokens.AccessExpiry().Seconds()),
		})
	}
}

// LogoutHandler revokes the presented access token. The bearer middleware has
// already validated it, so revocation failures here are server-side.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())

		if err := s.validator.Revoke(bearerToken(r)); err != nil {
			s.logger.Error().Err(err).Msg("failed to revoke token on logout")
			writeError(w, http.StatusInternalServerError, "server_error", "Could not log out")
			return
		}

		s.recorder.Record(audit.NewEvent(audit.EventLogout, identity.Subject, true).
			WithAuthMethod(string(identity.Source)))

		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

// AuthInfoHandler echoes the authenticated identity back to the caller.
func (s *Server) AuthInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		writeJSON(w, http.StatusOK, authInfoResponse{
			Subject:   identity.Subject,
			Roles:     identity.Roles,
			Email:     identity.Email,
			Name:      identity.Name,
			Source:    string(identity.Source),
			ExpiresAt: identity.ExpiresAt,
		})
	}
}

// BloodPressureHandler is the first protected health-data route. Readings
// storage is not wired yet; the route exists to exercise the auth stack
// end to end.
func (s *Server) BloodPressureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{
			"subject":  identity.Subject,
			"readings": []any{},
		})
	}
}

// AdminAuditHandler is the admin-only audit surface. Audit events go to the
// structured log; this route confirms role enforcement and reports where the
// trail lives.
func (s *Server) AdminAuditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"audit_sink": "structured log",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
