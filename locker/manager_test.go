package locker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkens/device-dispatch-backend/coordstore"
	"github.com/avolkens/device-dispatch-backend/interfaces"
)

func newTestManager(cfg Config) *Manager {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(coordstore.NewMemoryStore(log), cfg, log)
}

func newSharedManagers(a, b Config) (*Manager, *Manager) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := coordstore.NewMemoryStore(log)
	return New(store, a, log), New(store, b, log)
}

func TestAcquireRelease(t *testing.T) {
	m := newTestManager(Config{})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "device-1")
	require.NoError(t, err)
	assert.Equal(t, "device-1", lease.Name)
	assert.NotEmpty(t, lease.Token)

	require.NoError(t, m.Release(ctx, lease))

	// Released locks are immediately reacquirable.
	lease2, err := m.Acquire(ctx, "device-1")
	require.NoError(t, err)
	assert.NotEqual(t, lease.Token, lease2.Token)
}

func TestAcquireMutualExclusion(t *testing.T) {
	m := newTestManager(Config{
		TTL:          time.Second,
		PollInterval: 5 * time.Millisecond,
		Grace:        100 * time.Millisecond,
	})
	ctx := context.Background()

	var mu sync.Mutex
	holders := 0
	maxHolders := 0
	acquired := 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(ctx, "contended")
			if err != nil {
				return
			}
			mu.Lock()
			holders++
			acquired++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			require.NoError(t, m.Release(ctx, lease))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder at a time")
	assert.Equal(t, 10, acquired, "all goroutines eventually acquire")
}

func TestAcquireRetryCeiling(t *testing.T) {
	holder, waiter := newSharedManagers(
		Config{TTL: time.Minute},
		Config{TTL: 50 * time.Millisecond, PollInterval: 5 * time.Millisecond, Grace: 10 * time.Millisecond},
	)
	ctx := context.Background()

	// The holder's lease outlives the waiter's whole retry window.
	_, err := holder.Acquire(ctx, "busy")
	require.NoError(t, err)

	start := time.Now()
	_, err = waiter.Acquire(ctx, "busy")
	assert.ErrorIs(t, err, interfaces.ErrLockUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAcquireAfterTTLExpiry(t *testing.T) {
	m := newTestManager(Config{
		TTL:          30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		Grace:        50 * time.Millisecond,
	})
	ctx := context.Background()

	// Simulate a crashed holder: acquire and never release.
	_, err := m.Acquire(ctx, "crashed")
	require.NoError(t, err)

	// A waiter inside the grace window recovers the lock once the TTL
	// lapses.
	lease, err := m.Acquire(ctx, "crashed")
	require.NoError(t, err)
	assert.NotEmpty(t, lease.Token)
}

func TestReleaseNotOwner(t *testing.T) {
	m := newTestManager(Config{})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "guarded")
	require.NoError(t, err)

	stolen := interfaces.Lease{Name: "guarded", Token: "someone-else"}
	assert.ErrorIs(t, m.Release(ctx, stolen), interfaces.ErrNotLockOwner)

	// The rightful owner still holds and can release.
	require.NoError(t, m.Release(ctx, lease))
}

func TestReleaseExpiredLease(t *testing.T) {
	m := newTestManager(Config{
		TTL:          20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "shortlived")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	assert.ErrorIs(t, m.Release(ctx, lease), interfaces.ErrNotLockOwner)
}

func TestAcquireContextCancelled(t *testing.T) {
	m := newTestManager(Config{
		TTL:          time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	_, err := m.Acquire(context.Background(), "held")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "held")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
