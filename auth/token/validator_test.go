package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/audit/auditfakes"
	"github.com/healthguide/go-health-api/auth/blacklist"
	"github.com/healthguide/go-health-api/auth/keycache"
	"github.com/healthguide/go-health-api/auth/token"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testIssuer   = "https://auth.healthguide.test"
	testAudience = "health-api"

	providerIssuer = "https://provider.test"
	providerKid    = "provider-key-1"
)

type fixture struct {
	manager     *token.Manager
	validator   *token.Validator
	revoked     *blacklist.Blacklist
	recorder    *auditfakes.FakeRecorder
	providerKey *rsa.PrivateKey
}

func newFixture(t *testing.T, managerOptions ...token.ManagerOption) *fixture {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, providerKid))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(jwks.Close)

	recorder := auditfakes.NewFakeRecorder()
	revoked := blacklist.New(recorder)

	validator, err := token.NewValidator(token.ValidatorConfig{
		Secret:         testSecret,
		Issuer:         testIssuer,
		Audience:       testAudience,
		ProviderIssuer: providerIssuer,
	}, keycache.New(jwks.URL), revoked, recorder)
	require.NoError(t, err)

	return &fixture{
		manager:     token.NewManager(testSecret, testIssuer, testAudience, managerOptions...),
		validator:   validator,
		revoked:     revoked,
		recorder:    recorder,
		providerKey: priv,
	}
}

func (f *fixture) providerToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = providerKid
	signed, err := tok.SignedString(f.providerKey)
	require.NoError(t, err)
	return signed
}

func testIdentity() auth.Identity {
	return auth.Identity{
		Subject: "user-123",
		Roles:   []string{"user", "clinician"},
		Email:   "pat@example.com",
		Name:    "Pat Smith",
	}
}

func TestValidator_InternalRoundTrip(t *testing.T) {
	f := newFixture(t)

	raw, err := f.manager.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	identity, err := f.validator.Validate(raw)
	require.NoError(t, err)
	require.Equal(t, "user-123", identity.Subject)
	require.ElementsMatch(t, []string{"user", "clinician"}, identity.Roles)
	require.Equal(t, "pat@example.com", identity.Email)
	require.Equal(t, "Pat Smith", identity.Name)
	require.Equal(t, auth.SourceInternal, identity.Source)
	require.False(t, identity.ExpiresAt.IsZero())

	records := f.recorder.ByType(audit.EventTokenValidation)
	require.Len(t, records, 1)
	require.True(t, records[0].Success)
	require.Equal(t, "user-123", records[0].SubjectID)
}

func TestValidator_ExpiredInternalToken(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	f := newFixture(t, token.WithNowFunc(func() time.Time { return past }))

	raw, err := f.manager.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.TokenExpiredErr))

	records := f.recorder.ByType(audit.EventTokenValidation)
	require.Len(t, records, 1)
	require.False(t, records[0].Success)
}

func TestValidator_BadSignature(t *testing.T) {
	f := newFixture(t)

	other := token.NewManager("another-secret-another-secret-32", testIssuer, testAudience)
	raw, err := other.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.BadSignatureErr))
}

func TestValidator_WrongIssuer(t *testing.T) {
	f := newFixture(t)

	other := token.NewManager(testSecret, "https://someone-else.test", testAudience)
	raw, err := other.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.UnknownIssuerErr))
}

func TestValidator_WrongAudience(t *testing.T) {
	f := newFixture(t)

	other := token.NewManager(testSecret, testIssuer, "some-other-api")
	raw, err := other.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.BadAudienceErr))
}

func TestValidator_MalformedToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.validator.Validate("not-a-jwt")
	require.True(t, errors.Is(err, auth.MalformedTokenErr))
}

func TestValidator_TokenUseGating(t *testing.T) {
	f := newFixture(t)

	access, err := f.manager.CreateAccessToken(testIdentity())
	require.NoError(t, err)
	refresh, err := f.manager.CreateRefreshToken(testIdentity())
	require.NoError(t, err)

	t.Run("refresh token rejected as access token", func(t *testing.T) {
		_, err := f.validator.Validate(refresh)
		require.True(t, errors.Is(err, auth.MalformedTokenErr))
	})

	t.Run("access token rejected as refresh token", func(t *testing.T) {
		_, err := f.validator.ValidateRefresh(access)
		require.True(t, errors.Is(err, auth.MalformedTokenErr))
	})

	t.Run("refresh token accepted on refresh path", func(t *testing.T) {
		identity, err := f.validator.ValidateRefresh(refresh)
		require.NoError(t, err)
		require.Equal(t, "user-123", identity.Subject)
	})
}

func TestValidator_RevokedToken(t *testing.T) {
	f := newFixture(t)

	raw, err := f.manager.CreateAccessToken(testIdentity())
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.NoError(t, err)

	require.NoError(t, f.validator.Revoke(raw))

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.BlacklistedErr))
	require.Len(t, f.recorder.ByType(audit.EventTokenRevocation), 1)
}

func TestValidator_ProviderToken(t *testing.T) {
	f := newFixture(t)

	now := time.Now()
	raw := f.providerToken(t, jwt.MapClaims{
		"iss":   providerIssuer,
		"sub":   "provider-user-9",
		"email": "provider@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"roles": []any{"admin"},
	})

	identity, err := f.validator.Validate(raw)
	require.NoError(t, err)
	require.Equal(t, "provider-user-9", identity.Subject)
	require.Equal(t, auth.SourceProvider, identity.Source)
	require.ElementsMatch(t, []string{"admin", "user"}, identity.Roles)
}

func TestValidator_ProviderTokenUnknownKid(t *testing.T) {
	f := newFixture(t)

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": providerIssuer,
		"sub": "provider-user-9",
		"exp": now.Add(time.Hour).Unix(),
	})
	tok.Header["kid"] = "retired-key"
	raw, err := tok.SignedString(f.providerKey)
	require.NoError(t, err)

	_, err = f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.UnknownKeyErr))
}

func TestValidator_ProviderTokenWrongIssuer(t *testing.T) {
	f := newFixture(t)

	now := time.Now()
	raw := f.providerToken(t, jwt.MapClaims{
		"iss": "https://imposter.test",
		"sub": "provider-user-9",
		"exp": now.Add(time.Hour).Unix(),
	})

	_, err := f.validator.Validate(raw)
	require.True(t, errors.Is(err, auth.UnknownIssuerErr))
}
