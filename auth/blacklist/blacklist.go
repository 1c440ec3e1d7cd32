// Package blacklist tracks revoked token identifiers until their natural
// expiry. Membership is the final gate in token validation: a structurally
// valid, unexpired token is still rejected when its jti is listed here.
package blacklist

import (
	"sync"
	"time"

	"github.com/healthguide/go-health-api/auth/audit"
)

const defaultMaxSize = 10000

type entry struct {
	expiresAt time.Time
	revokedAt time.Time
}

// Blacklist is a thread-safe in-memory revocation list. It is bounded: at
// capacity it first drops naturally expired entries, then the oldest
// revocations.
type Blacklist struct {
	mu       sync.RWMutex
	revoked  map[string]entry
	maxSize  int
	recorder audit.Recorder
	nowFunc  func() time.Time
}

// Option configures a Blacklist.
type Option func(*Blacklist)

// WithMaxSize bounds the number of stored entries.
func WithMaxSize(maxSize int) Option {
	return func(b *Blacklist) {
		b.maxSize = maxSize
	}
}

// WithNowFunc overrides the clock (for testing).
func WithNowFunc(now func() time.Time) Option {
	return func(b *Blacklist) {
		b.nowFunc = now
	}
}

// New creates an empty blacklist.
func New(recorder audit.Recorder, options ...Option) *Blacklist {
	b := &Blacklist{
		revoked:  make(map[string]entry),
		maxSize:  defaultMaxSize,
		recorder: recorder,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Revoke adds the token identifier with its natural expiry. The entry may be
// purged once the expiry passes, since the token would then be rejected on
// expiry grounds regardless.
func (b *Blacklist) Revoke(tokenID string, expiresAt time.Time) {
	b.mu.Lock()
	if len(b.revoked) >= b.maxSize {
		b.purgeLocked()
		if len(b.revoked) >= b.maxSize {
			b.evictOldestLocked(b.maxSize / 2)
		}
	}
	b.revoked[tokenID] = entry{expiresAt: expiresAt, revokedAt: b.nowFunc()}
	b.mu.Unlock()

	b.recorder.Record(audit.NewEvent(audit.EventTokenRevocation, "", true).
		WithDetail("token " + tokenID + " revoked"))
}

// IsRevoked reports whether the token identifier is blacklisted.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.revoked[tokenID]
	return ok
}

// Purge removes entries whose natural expiry has passed and returns how many
// were removed.
func (b *Blacklist) Purge() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.purgeLocked()
}

// Len returns the number of stored entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.revoked)
}

func (b *Blacklist) purgeLocked() int {
	now := b.nowFunc()
	removed := 0
	for id, e := range b.revoked {
		if now.After(e.expiresAt) {
			delete(b.revoked, id)
			removed++
		}
	}
	return removed
}

// evictOldestLocked removes up to count entries with the oldest revocation
// times. Called only when purging expired entries was not enough.
func (b *Blacklist) evictOldestLocked(count int) {
	for i := 0; i < count; i++ {
		oldestID := ""
		var oldestAt time.Time
		for id, e := range b.revoked {
			if oldestID == "" || e.revokedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = e.revokedAt
			}
		}
		if oldestID == "" {
			return
		}
		delete(b.revoked, oldestID)
	}
}
