package sessions_test

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/healthguide/go-health-api/auth"
	"github.com/healthguide/go-health-api/auth/audit"
	"github.com/healthguide/go-health-api/auth/audit/auditfakes"
	"github.com/healthguide/go-health-api/auth/sessions"
)

func TestInMemoryStore_CreateAndConsume(t *testing.T) {
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder)

	created, err := store.Create()
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.Nonce)
	require.NotEmpty(t, created.PKCEVerifier)
	require.NotEqual(t, created.ID, created.Nonce)

	consumed, err := store.Consume(created.ID)
	require.NoError(t, err)
	require.Equal(t, created, consumed)
	require.Equal(t, 0, store.Len())
}

func TestInMemoryStore_ConsumeIsOneShot(t *testing.T) {
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder)

	created, err := store.Create()
	require.NoError(t, err)

	_, err = store.Consume(created.ID)
	require.NoError(t, err)

	_, err = store.Consume(created.ID)
	require.True(t, errors.Is(err, auth.SessionNotFoundErr))
}

func TestInMemoryStore_ConsumeUnknown(t *testing.T) {
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder)

	_, err := store.Consume("no-such-session")
	require.True(t, errors.Is(err, auth.SessionNotFoundErr))

	failed := recorder.ByType(audit.EventSessionConsumed)
	require.Len(t, failed, 1)
	require.False(t, failed[0].Success)
}

func TestInMemoryStore_ConsumeExpired(t *testing.T) {
	now := time.Now()
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder,
		sessions.WithNowFunc(func() time.Time { return now }))

	created, err := store.Create()
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)

	_, err = store.Consume(created.ID)
	require.True(t, errors.Is(err, auth.SessionNotFoundErr))
	require.Len(t, recorder.ByType(audit.EventSessionExpired), 1)

	// The expired session was still removed on the failed consume.
	require.Equal(t, 0, store.Len())
}

func TestInMemoryStore_ConcurrentConsume(t *testing.T) {
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder)

	created, err := store.Create()
	require.NoError(t, err)

	const goroutines = 32
	var wg sync.WaitGroup
	results := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(created.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			require.True(t, errors.Is(err, auth.SessionNotFoundErr))
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestInMemoryStore_Sweep(t *testing.T) {
	now := time.Now()
	recorder := auditfakes.NewFakeRecorder()
	store := sessions.NewInMemoryStore(10*time.Minute, recorder,
		sessions.WithNowFunc(func() time.Time { return now }))

	old, err := store.Create()
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)

	fresh, err := store.Create()
	require.NoError(t, err)

	require.Equal(t, 1, store.Sweep())
	require.Equal(t, 1, store.Len())

	_, err = store.Consume(old.ID)
	require.True(t, errors.Is(err, auth.SessionNotFoundErr))

	_, err = store.Consume(fresh.ID)
	require.NoError(t, err)
}
