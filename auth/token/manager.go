// Package token mints the service's own JWTs and validates bearer tokens on
// protected requests. Two signing schemes coexist: internal tokens are HS256
// with the locally held secret, provider tokens are RS256 and verified
// against the provider's cached key set.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/healthguide/go-health-api/auth"
)

// Token use claim values. The refresh endpoint only accepts refresh-use
// tokens and the bearer middleware only accepts access-use tokens.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

const (
	defaultAccessExpiry  = 15 * time.Minute
	defaultRefreshExpiry = 7 * 24 * time.Hour
)

// Manager creates internally signed tokens.
type Manager struct {
	secret        []byte
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	nowFunc       func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTokenExpiry sets the access and refresh token lifetimes.
func WithTokenExpiry(access, refresh time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessExpiry = access
		m.refreshExpiry = refresh
	}
}

// WithNowFunc overrides the clock (for testing).
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// NewManager creates a Manager signing with the given secret and stamping the
// given issuer and audience claims.
func NewManager(secret, issuer, audience string, options ...ManagerOption) *Manager {
	m := &Manager{
		secret:        []byte(secret),
		issuer:        issuer,
		audience:      audience,
		accessExpiry:  defaultAccessExpiry,
		refreshExpiry: defaultRefreshExpiry,
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// CreateAccessToken mints a short-lived access token for the identity.
func (m *Manager) CreateAccessToken(identity auth.Identity) (string, error) {
	return m.sign(identity, UseAccess, m.accessExpiry)
}

// CreateRefreshToken mints a longer-lived refresh token for the identity.
func (m *Manager) CreateRefreshToken(identity auth.Identity) (string, error) {
	return m.sign(identity, UseRefresh, m.refreshExpiry)
}

// AccessExpiry returns the configured access token lifetime.
func (m *Manager) AccessExpiry() time.Duration {
	return m.accessExpiry
}

func (m *Manager) sign(identity auth.Identity, use string, expiry time.Duration) (string, error) {
	now := m.nowFunc()

	claims := jwt.MapClaims{
		"iss":       m.issuer,
		"sub":       identity.Subject,
		"aud":       m.audience,
		"roles":     identity.Roles,
		"iat":       now.Unix(),
		"exp":       now.Add(expiry).Unix(),
		"jti":       uuid.New().String(),
		"token_use": use,
	}
	if identity.Email != "" {
		claims["email"] = identity.Email
	}
	if identity.Name != "" {
		claims["name"] = identity.Name
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.sign] SignedString")
	}
	return signed, nil
}
