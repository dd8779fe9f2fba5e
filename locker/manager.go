package locker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// Default lease parameters. The grace window covers the worst-case delay
// between a crashed holder's TTL expiring and a waiter observing the key
// as reclaimable.
const (
	DefaultTTL          = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultGrace        = 2 * time.Second
)

// Config tunes lease TTL and the acquisition retry loop.
type Config struct {
	// TTL is the lease lifetime written with each acquisition.
	TTL time.Duration

	// PollInterval is the sleep between acquisition retries.
	PollInterval time.Duration

	// Grace extends the retry ceiling beyond the TTL so waiters tolerate
	// the expiry delay of a crashed holder.
	Grace time.Duration
}

// Manager hands out named exclusive leases backed by the coordination
// store. Correctness holds across independent server processes because
// acquisition is a single atomic set-if-absent on the shared store.
type Manager struct {
	store interfaces.CoordinationStore
	cfg   Config
	log   *slog.Logger
}

// New creates a lock manager. Zero config fields take the defaults.
func New(store interfaces.CoordinationStore, cfg Config, log *slog.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	return &Manager{store: store, cfg: cfg, log: log}
}

func lockKey(name string) string {
	return "lock:" + name
}

// maxRetries bounds caller blocking to roughly TTL + grace regardless of
// poll granularity.
func (m *Manager) maxRetries() int {
	return int((m.cfg.TTL + m.cfg.Grace) / m.cfg.PollInterval)
}

// Acquire attempts an atomic set-if-absent of a fresh token under the
// lock name. On conflict it sleeps one poll interval and retries up to
// the retry ceiling, after which it returns ErrLockUnavailable. Store
// errors abort immediately: a failing store is never a retryable
// condition, since no progress can be assumed mid-failure.
func (m *Manager) Acquire(ctx context.Context, name string) (interfaces.Lease, error) {
	token := uuid.Must(uuid.NewRandom()).String()
	key := lockKey(name)

	for attempt := 0; ; attempt++ {
		granted, err := m.store.SetNX(ctx, key, token, m.cfg.TTL)
		if err != nil {
			return interfaces.Lease{}, fmt.Errorf("lock acquire %q: %w", name, err)
		}
		if granted {
			return interfaces.Lease{Name: name, Token: token}, nil
		}

		if attempt >= m.maxRetries() {
			m.log.Debug("Lock retry ceiling exceeded", "name", name, "attempts", attempt)
			return interfaces.Lease{}, interfaces.ErrLockUnavailable
		}

		select {
		case <-ctx.Done():
			return interfaces.Lease{}, ctx.Err()
		case <-time.After(m.cfg.PollInterval):
		}
	}
}

// Release frees the lock only if the caller's token still owns it. A
// token mismatch (or an already-expired key) returns ErrNotLockOwner and
// deletes nothing: silently removing another holder's lock would break
// mutual exclusion for whoever re-acquired after our TTL lapsed.
func (m *Manager) Release(ctx context.Context, lease interfaces.Lease) error {
	key := lockKey(lease.Name)

	current, err := m.store.Get(ctx, key)
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		return interfaces.ErrNotLockOwner
	}
	if err != nil {
		return fmt.Errorf("lock release %q: %w", lease.Name, err)
	}

	if current != lease.Token {
		return interfaces.ErrNotLockOwner
	}

	if err := m.store.Del(ctx, key); err != nil {
		return fmt.Errorf("lock release %q: %w", lease.Name, err)
	}
	return nil
}
