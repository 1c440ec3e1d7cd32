package keycache_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/keycache"
)

type jwksServer struct {
	*httptest.Server
	fetches atomic.Int64
	failing atomic.Bool
	body    []byte
}

func newJWKSServer(t *testing.T, kids ...string) *jwksServer {
	t.Helper()

	set := jwk.NewSet()
	for _, kid := range kids {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		key, err := jwk.FromRaw(&priv.PublicKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(t, set.AddKey(key))
	}
	body, err := json.Marshal(set)
	require.NoError(t, err)

	s := &jwksServer{body: body}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		if s.failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(s.body)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestCache_GetKey(t *testing.T) {
	jwks := newJWKSServer(t, "key-1", "key-2")
	cache := keycache.New(jwks.URL)

	key, err := cache.GetKey("key-1")
	require.NoError(t, err)
	require.IsType(t, &rsa.PublicKey{}, key)
	require.EqualValues(t, 1, jwks.fetches.Load())

	// Fresh cache hit, no second fetch.
	_, err = cache.GetKey("key-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, jwks.fetches.Load())
}

func TestCache_UnknownKidRefreshesOnce(t *testing.T) {
	jwks := newJWKSServer(t, "key-1")
	cache := keycache.New(jwks.URL)

	_, err := cache.GetKey("key-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, jwks.fetches.Load())

	_, err = cache.GetKey("no-such-kid")
	require.True(t, errors.Is(err, auth.UnknownKeyErr))
	require.EqualValues(t, 2, jwks.fetches.Load())
}

func TestCache_TTLExpiryRefreshes(t *testing.T) {
	now := time.Now()
	jwks := newJWKSServer(t, "key-1")
	cache := keycache.New(jwks.URL,
		keycache.WithTTL(time.Hour),
		keycache.WithNowFunc(func() time.Time { return now }))

	_, err := cache.GetKey("key-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, jwks.fetches.Load())

	now = now.Add(2 * time.Hour)

	_, err = cache.GetKey("key-1")
	require.NoError(t, err)
	require.EqualValues(t, 2, jwks.fetches.Load())
}

func TestCache_ServesStaleOnRefreshFailure(t *testing.T) {
	now := time.Now()
	jwks := newJWKSServer(t, "key-1")
	cache := keycache.New(jwks.URL,
		keycache.WithTTL(time.Hour),
		keycache.WithNowFunc(func() time.Time { return now }))

	fresh, err := cache.GetKey("key-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	jwks.failing.Store(true)

	stale, err := cache.GetKey("key-1")
	require.NoError(t, err)
	require.Equal(t, fresh, stale)
}

func TestCache_FetchFailureWithEmptyCache(t *testing.T) {
	jwks := newJWKSServer(t, "key-1")
	jwks.failing.Store(true)
	cache := keycache.New(jwks.URL)

	_, err := cache.GetKey("key-1")
	require.True(t, errors.Is(err, auth.KeyFetchFailedErr))
}
