package sessions

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
)

const pkceVerifierBytes = 32

// InMemoryStore is a thread-safe in-memory Store. Expired sessions are
// rejected at access time; Sweep additionally removes them proactively.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	timeout  time.Duration
	recorder audit.Recorder
	nowFunc  func() time.Time
}

// StoreOption configures an InMemoryStore.
type StoreOption func(*InMemoryStore)

// WithNowFunc overrides the clock (for testing).
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *InMemoryStore) {
		s.nowFunc = now
	}
}

// NewInMemoryStore creates a store whose sessions expire after timeout.
func NewInMemoryStore(timeout time.Duration, recorder audit.Recorder, options ...StoreOption) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[string]Session),
		timeout:  timeout,
		recorder: recorder,
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Create generates a fresh session with a random ID, nonce and PKCE verifier
// and stores it.
func (s *InMemoryStore) Create() (Session, error) {
	verifier, err := generateVerifier()
	if err != nil {
		return Session{}, errors.Wrap(err, "[InMemoryStore.Create] generateVerifier")
	}

	session := Session{
		ID:           uuid.New().String(),
		Nonce:        uuid.New().String(),
		PKCEVerifier: verifier,
		CreatedAt:    s.nowFunc(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.recorder.Record(audit.NewEvent(audit.EventSessionCreated, "", true).
		WithDetail(fmt.Sprintf("login session %s created", session.ID)))

	return session, nil
}

// Consume atomically retrieves and removes the session with the given ID.
// Unknown, already-consumed and expired sessions all return
// auth.SessionNotFoundErr.
func (s *InMemoryStore) Consume(id string) (Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		s.recorder.Record(audit.NewEvent(audit.EventSessionConsumed, "", false).
			WithDetail("unknown or already consumed session"))
		return Session{}, auth.SessionNotFoundErr
	}

	if s.isExpired(session, s.nowFunc()) {
		s.recorder.Record(audit.NewEvent(audit.EventSessionExpired, "", false).
			WithDetail(fmt.Sprintf("login session %s expired", session.ID)))
		return Session{}, auth.SessionNotFoundErr
	}

	s.recorder.Record(audit.NewEvent(audit.EventSessionConsumed, "", true).
		WithDetail(fmt.Sprintf("login session %s consumed", session.ID)))

	return session, nil
}

// Sweep removes expired sessions and returns how many were removed.
func (s *InMemoryStore) Sweep() int {
	now := s.nowFunc()

	s.mu.Lock()
	var expired []Session
	for id, session := range s.sessions {
		if s.isExpired(session, now) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		s.recorder.Record(audit.NewEvent(audit.EventSessionExpired, "", false).
			WithDetail(fmt.Sprintf("login session %s swept", session.ID)))
	}

	return len(expired)
}

// Len returns the number of live (possibly expired but unswept) sessions.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *InMemoryStore) isExpired(session Session, now time.Time) bool {
	return now.Sub(session.CreatedAt) > s.timeout
}

// generateVerifier creates a random base64url PKCE verifier.
func generateVerifier() (string, error) {
	b := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
