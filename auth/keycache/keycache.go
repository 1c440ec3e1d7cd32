// Package keycache fetches and caches the identity provider's published
// signing keys (JWKS). Lookups are served from the cache while it is fresh;
// a miss or an expired TTL triggers exactly one refresh before failing.
package keycache

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/healthguide/go-health-api/auth"
)

const (
	defaultTTL          = 24 * time.Hour
	defaultFetchTimeout = 10 * time.Second
	maxJWKSBody         = 1 << 20
)

// Cache holds the provider's verification keys, keyed by key ID.
type Cache struct {
	mu        sync.Mutex
	keys      map[string]any
	fetchedAt time.Time

	jwksURL string
	ttl     time.Duration
	client  *http.Client
	nowFunc func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets how long a fetched key set is served without a refresh.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithHTTPClient overrides the outbound HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithNowFunc overrides the clock (for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) {
		c.nowFunc = now
	}
}

// New creates a cache for the JWKS document at jwksURL. Nothing is fetched
// until the first lookup.
func New(jwksURL string, options ...Option) *Cache {
	c := &Cache{
		keys:    make(map[string]any),
		jwksURL: jwksURL,
		ttl:     defaultTTL,
		client:  &http.Client{Timeout: defaultFetchTimeout},
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// GetKey resolves the verification key for the given key ID. A fresh cache
// hit returns immediately. On a miss or an expired TTL one refresh is
// attempted; if the key ID is still absent afterwards the lookup fails with
// auth.UnknownKeyErr. A failed refresh does not poison the cached set: a key
// already cached is served stale rather than failing the request.
func (c *Cache) GetKey(kid string) (any, error) {
	c.mu.Lock()
	key, cached := c.keys[kid]
	fresh := !c.fetchedAt.IsZero() && c.nowFunc().Sub(c.fetchedAt) < c.ttl
	c.mu.Unlock()

	if cached && fresh {
		return key, nil
	}

	fetched, err := c.fetch()
	if err != nil {
		if cached {
			log.Warn().Err(err).Str("kid", kid).Msg("JWKS refresh failed, serving stale key")
			return key, nil
		}
		return nil, errors.Wrap(auth.KeyFetchFailedErr, err.Error())
	}

	// Last writer wins; concurrent refreshes for the same key set are
	// harmless.
	c.mu.Lock()
	c.keys = fetched
	c.fetchedAt = c.nowFunc()
	key, cached = c.keys[kid]
	c.mu.Unlock()

	if !cached {
		return nil, errors.Wrapf(auth.UnknownKeyErr, "kid %q", kid)
	}
	return key, nil
}

func (c *Cache) fetch() (map[string]any, error) {
	resp, err := c.client.Get(c.jwksURL)
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.fetch] GET JWKS")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("[Cache.fetch] JWKS endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.fetch] read JWKS body")
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, errors.Wrap(err, "[Cache.fetch] parse JWKS document")
	}

	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok {
			continue
		}
		var raw any
		if err := k.Raw(&raw); err != nil {
			log.Warn().Err(err).Str("kid", k.KeyID()).Msg("skipping unusable JWK")
			continue
		}
		keys[k.KeyID()] = raw
	}

	return keys, nil
}
