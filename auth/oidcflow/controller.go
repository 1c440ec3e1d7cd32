// Package oidcflow orchestrates the OIDC authorization-code flow with PKCE
// and nonce verification. A login attempt moves through five stages:
// started, callback received, code exchanged, ID token verified, completed.
// Any failure is terminal for that attempt; the client restarts at login.
package oidcflow

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/keycache"
	"github.com/healthguide/go-health-api/auth/sessions"
	"github.com/healthguide/go-health-api/auth/token"
)

const defaultExchangeTimeout = 10 * time.Second

// Config carries the relying-party settings for the provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Scopes defaults to openid, email, profile.
	Scopes []string
}

// LoginResult is the outcome of a completed flow: locally minted tokens plus
// the identity the provider attested.
type LoginResult struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	Identity     auth.Identity `json:"-"`
}

// Discover resolves the provider's endpoints and JWKS location from its
// issuer URL. The JWKS URL feeds the key cache shared with the JWT validator.
func Discover(ctx context.Context, issuerURL string) (*oidc.Provider, string, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Discover] oidc.NewProvider")
	}

	var meta struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, "", errors.Wrap(err, "[Discover] provider metadata")
	}
	if meta.JWKSURL == "" {
		return nil, "", errors.New("[Discover] provider metadata has no jwks_uri")
	}

	return provider, meta.JWKSURL, nil
}

// Controller runs login initiation and callback handling.
type Controller struct {
	oauth           *oauth2.Config
	issuerURL       string
	clientID        string
	sessions        sessions.Store
	keys            *keycache.Cache
	tokens          *token.Manager
	recorder        audit.Recorder
	exchangeTimeout time.Duration
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithExchangeTimeout bounds the outbound code-exchange call.
func WithExchangeTimeout(timeout time.Duration) ControllerOption {
	return func(c *Controller) {
		c.exchangeTimeout = timeout
	}
}

// NewController creates a Controller against a discovered provider.
func NewController(cfg Config, provider *oidc.Provider, store sessions.Store, keys *keycache.Cache, tokens *token.Manager, recorder audit.Recorder, options ...ControllerOption) (*Controller, error) {
	if store == nil {
		return nil, errors.New("[NewController] session store is required")
	}
	if keys == nil {
		return nil, errors.New("[NewController] key cache is required")
	}
	if tokens == nil {
		return nil, errors.New("[NewController] token manager is required")
	}
	if recorder == nil {
		return nil, errors.New("[NewController] audit recorder is required")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}

	c := &Controller{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		issuerURL:       cfg.IssuerURL,
		clientID:        cfg.ClientID,
		sessions:        store,
		keys:            keys,
		tokens:          tokens,
		recorder:        recorder,
		exchangeTimeout: defaultExchangeTimeout,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// BeginLogin creates a pending session and returns the provider
// authorization URL. The session ID travels as the state parameter; the
// nonce and a PKCE S256 challenge derived from the stored verifier are
// embedded in the URL.
func (c *Controller) BeginLogin() (string, error) {
	session, err := c.sessions.Create()
	if err != nil {
		c.recorder.Record(audit.NewEvent(audit.EventLogin, "", false).
			WithDetail("failed to create login session").
			WithAuthMethod("oidc"))
		return "", errors.Wrap(err, "[Controller.BeginLogin] sessions.Create")
	}

	authURL := c.oauth.AuthCodeURL(
		session.ID,
		oauth2.S256ChallengeOption(session.PKCEVerifier),
		oidc.Nonce(session.Nonce),
	)

	c.recorder.Record(audit.NewEvent(audit.EventLogin, "", true).
		WithDetail(fmt.Sprintf("started OIDC flow, session %s", session.ID)).
		WithAuthMethod("oidc"))

	return authURL, nil
}

// HandleCallback consumes the session named by state, exchanges the code
// using the stored PKCE verifier, verifies the returned ID token (signature
// via the key cache, issuer, audience, expiry, and the session's nonce) and
// mints the local token pair. The session is gone after this call whatever
// the outcome: a replayed state fails with SessionNotFoundErr.
func (c *Controller) HandleCallback(ctx context.Context, code, state string) (*LoginResult, error) {
	start := time.Now()

	session, err := c.sessions.Consume(state)
	if err != nil {
		c.failCallback(start, "", "unknown, expired or already consumed state")
		return nil, auth.SessionNotFoundErr
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, c.exchangeTimeout)
	defer cancel()

	oauthToken, err := c.oauth.Exchange(
		exchangeCtx,
		code,
		oauth2.SetAuthURLParam("code_verifier", session.PKCEVerifier),
	)
	if err != nil {
		c.failCallback(start, "", "code exchange failed: "+err.Error())
		return nil, errors.Wrap(err, "[Controller.HandleCallback] code exchange")
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		c.failCallback(start, "", "no ID token in provider response")
		return nil, errors.Wrap(auth.MalformedTokenErr, "no ID token in provider response")
	}

	identity, nonce, err := c.verifyIDToken(rawIDToken)
	if err != nil {
		c.failCallback(start, identity.Subject, "ID token verification failed: "+err.Error())
		return nil, err
	}

	// Nonce check fails closed: a mismatch means replay or substitution.
	if nonce != session.Nonce {
		c.failCallback(start, identity.Subject, "nonce mismatch")
		return nil, auth.NonceMismatchErr
	}

	accessToken, err := c.tokens.CreateAccessToken(identity)
	if err != nil {
		c.failCallback(start, identity.Subject, "failed to mint access token")
		return nil, errors.Wrap(err, "[Controller.HandleCallback] CreateAccessToken")
	}
	refreshToken, err := c.tokens.CreateRefreshToken(identity)
	if err != nil {
		c.failCallback(start, identity.Subject, "failed to mint refresh token")
		return nil, errors.Wrap(err, "[Controller.HandleCallback] CreateRefreshToken")
	}

	c.recorder.Record(audit.NewEvent(audit.EventOidcCallback, identity.Subject, true).
		WithDetail(fmt.Sprintf("flow completed, session %s", session.ID)).
		WithDuration(time.Since(start)).
		WithAuthMethod("oidc"))
	c.recorder.Record(audit.NewEvent(audit.EventLogin, identity.Subject, true).
		WithAuthMethod("oidc"))

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(c.tokens.AccessExpiry().Seconds()),
		Identity:     identity,
	}, nil
}

// verifyIDToken checks the ID token's signature against the provider's key
// set plus issuer, audience and expiry, and returns the attested identity
// and the nonce claim.
func (c *Controller) verifyIDToken(raw string) (auth.Identity, string, error) {
	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.Wrap(auth.MalformedTokenErr, "ID token has no kid header")
		}
		return c.keys.GetKey(kid)
	},
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(c.issuerURL),
		jwt.WithAudience(c.clientID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return auth.Identity{}, "", mapVerifyError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Identity{}, "", auth.MalformedTokenErr
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return auth.Identity{}, "", errors.Wrap(auth.MalformedTokenErr, "ID token has no subject")
	}

	identity := auth.Identity{
		Subject: sub,
		Roles:   token.ExtractRoles(claims),
		Source:  auth.SourceProvider,
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	nonce, _ := claims["nonce"].(string)
	return identity, nonce, nil
}

func (c *Controller) failCallback(start time.Time, subject, detail string) {
	c.recorder.Record(audit.NewEvent(audit.EventOidcCallback, subject, false).
		WithDetail(detail).
		WithDuration(time.Since(start)).
		WithAuthMethod("oidc"))
	c.recorder.Record(audit.NewEvent(audit.EventFailedLogin, subject, false).
		WithDetail(detail).
		WithAuthMethod("oidc"))
}

func mapVerifyError(err error) error {
	switch {
	case errors.Is(err, auth.UnknownKeyErr),
		errors.Is(err, auth.KeyFetchFailedErr),
		errors.Is(err, auth.MalformedTokenErr):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return auth.TokenExpiredErr
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return auth.BadSignatureErr
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return auth.UnknownIssuerErr
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return auth.BadAudienceErr
	default:
		return errors.Wrap(auth.MalformedTokenErr, err.Error())
	}
}
