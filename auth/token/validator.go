package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/blacklist"
	"github.com/healthguide/go-health-api/auth/keycache"
)

// scheme is the signing scheme a bearer token claims in its header. Dispatch
// is decided once, from the header, and each path is then checked in full.
// Validation never partially succeeds.
type scheme int

const (
	schemeInternal scheme = iota
	schemeProvider
)

// Validator validates bearer tokens on protected requests. Internal tokens
// are verified with the local secret; provider tokens resolve their key
// through the key cache. The blacklist is consulted last on both paths.
type Validator struct {
	secret           []byte
	issuer           string
	audience         string
	providerIssuer   string
	providerAudience string
	keys             *keycache.Cache
	revoked          *blacklist.Blacklist
	recorder         audit.Recorder
}

// ValidatorConfig carries the trust anchors for both validation paths.
type ValidatorConfig struct {
	// Secret, Issuer and Audience cover internally minted tokens.
	Secret   string
	Issuer   string
	Audience string
	// ProviderIssuer and ProviderAudience cover provider-minted tokens.
	// ProviderAudience may be empty when the provider does not stamp an API
	// audience.
	ProviderIssuer   string
	ProviderAudience string
}

// NewValidator creates a Validator.
func NewValidator(cfg ValidatorConfig, keys *keycache.Cache, revoked *blacklist.Blacklist, recorder audit.Recorder) (*Validator, error) {
	if cfg.Secret == "" {
		return nil, errors.New("[NewValidator] signing secret is required")
	}
	if keys == nil {
		return nil, errors.New("[NewValidator] key cache is required")
	}
	if revoked == nil {
		return nil, errors.New("[NewValidator] blacklist is required")
	}
	if recorder == nil {
		return nil, errors.New("[NewValidator] audit recorder is required")
	}
	return &Validator{
		secret:           []byte(cfg.Secret),
		issuer:           cfg.Issuer,
		audience:         cfg.Audience,
		providerIssuer:   cfg.ProviderIssuer,
		providerAudience: cfg.ProviderAudience,
		keys:             keys,
		revoked:          revoked,
		recorder:         recorder,
	}, nil
}

// Validate checks a bearer token and returns the identity it carries. Every
// attempt, success or failure, emits one TOKEN_VALIDATION audit record with
// its duration.
func (v *Validator) Validate(raw string) (auth.Identity, error) {
	start := time.Now()

	identity, claims, err := v.validate(raw)
	if err == nil && claims["token_use"] == UseRefresh {
		err = errors.Wrap(auth.MalformedTokenErr, "refresh token presented as access token")
	}

	v.audit(identity, start, err)
	if err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// ValidateRefresh checks an internally minted refresh token and returns the
// identity to re-issue an access token for.
func (v *Validator) ValidateRefresh(raw string) (auth.Identity, error) {
	start := time.Now()

	identity, claims, err := v.validateInternal(raw)
	if err == nil && claims["token_use"] != UseRefresh {
		err = errors.Wrap(auth.MalformedTokenErr, "access token presented as refresh token")
	}

	v.audit(identity, start, err)
	if err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// Revoke validates the token on either path and blacklists its identifier
// until the token's own expiry.
func (v *Validator) Revoke(raw string) error {
	_, claims, err := v.validate(raw)
	if err != nil {
		return err
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return errors.Wrap(auth.MalformedTokenErr, "token has no jti claim")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errors.Wrap(auth.MalformedTokenErr, "token has no exp claim")
	}

	v.revoked.Revoke(jti, exp.Time)
	return nil
}

func (v *Validator) validate(raw string) (auth.Identity, jwt.MapClaims, error) {
	switch detectScheme(raw) {
	case schemeProvider:
		return v.validateProvider(raw)
	default:
		return v.validateInternal(raw)
	}
}

// detectScheme reads the unverified header. A key ID means the token points
// into the provider's published key set; everything else is tried as an
// internal token first.
func detectScheme(raw string) scheme {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return schemeInternal
	}
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		return schemeProvider
	}
	return schemeInternal
}

func (v *Validator) validateInternal(raw string) (auth.Identity, jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return auth.Identity{}, nil, mapJWTError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Identity{}, nil, auth.MalformedTokenErr
	}

	identity := auth.Identity{
		Subject: stringClaim(claims, "sub"),
		Roles:   internalRoles(claims),
		Email:   stringClaim(claims, "email"),
		Name:    stringClaim(claims, "name"),
		Source:  auth.SourceInternal,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	if err := v.checkBlacklist(claims); err != nil {
		return identity, nil, err
	}
	return identity, claims, nil
}

func (v *Validator) validateProvider(raw string) (auth.Identity, jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	}
	if v.providerIssuer != "" {
		opts = append(opts, jwt.WithIssuer(v.providerIssuer))
	}
	if v.providerAudience != "" {
		opts = append(opts, jwt.WithAudience(v.providerAudience))
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.Wrap(auth.MalformedTokenErr, "provider token has no kid header")
		}
		return v.keys.GetKey(kid)
	}, opts...)
	if err != nil {
		return auth.Identity{}, nil, mapJWTError(err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return auth.Identity{}, nil, auth.MalformedTokenErr
	}

	identity := auth.Identity{
		Subject: stringClaim(claims, "sub"),
		Roles:   ExtractRoles(claims),
		Email:   stringClaim(claims, "email"),
		Name:    stringClaim(claims, "name"),
		Source:  auth.SourceProvider,
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	if err := v.checkBlacklist(claims); err != nil {
		return identity, nil, err
	}
	return identity, claims, nil
}

// checkBlacklist is the final gate: a cryptographically valid, unexpired
// token is still rejected when its identifier has been revoked.
func (v *Validator) checkBlacklist(claims jwt.MapClaims) error {
	jti, _ := claims["jti"].(string)
	if jti != "" && v.revoked.IsRevoked(jti) {
		return auth.BlacklistedErr
	}
	return nil
}

func (v *Validator) audit(identity auth.Identity, start time.Time, err error) {
	event := audit.NewEvent(audit.EventTokenValidation, identity.Subject, err == nil).
		WithAuthMethod(string(identity.Source)).
		WithDuration(time.Since(start))
	if err != nil {
		event = event.WithDetail(err.Error())
	}
	v.recorder.Record(event)
}

func mapJWTError(err error) error {
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
	case errors.Is(err, jwt.ErrTokenMalformed):
		return auth.MalformedTokenErr
	default:
		return errors.Wrap(auth.MalformedTokenErr, err.Error())
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
