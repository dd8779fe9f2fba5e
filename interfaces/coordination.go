package interfaces

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when a key or list entry does not exist
	// in the coordination store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable is returned when the coordination store cannot
	// be reached. It is an infrastructure fault, never a business status.
	ErrStoreUnavailable = errors.New("coordination store unavailable")
)

// Subscription is a handle on a coordination store channel. Messages
// delivers published payloads until Close is called.
type Subscription interface {
	// Messages returns the channel payloads are delivered on. The
	// channel is closed when the subscription is closed.
	Messages() <-chan string

	// Close terminates the subscription.
	Close() error
}

// CoordinationStore is the shared low-latency store all server instances
// coordinate through. It exposes the atomic primitives the lock manager,
// task queue, and notification channels are built on; correctness of
// those components depends on SetNX, LPop, and RPush being atomic across
// independent processes.
type CoordinationStore interface {
	// SetNX atomically sets key to value with a TTL only if the key is
	// absent. Returns true if the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value under key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set unconditionally writes value under key.
	Set(ctx context.Context, key, value string) error

	// Del removes key.
	Del(ctx context.Context, key string) error

	// RPush appends values to the tail of the list under key.
	RPush(ctx context.Context, key string, values ...string) error

	// LPop atomically removes and returns the head of the list under
	// key, or ErrKeyNotFound when the list is empty.
	LPop(ctx context.Context, key string) (string, error)

	// LIndex returns the element at index (negative counts from the
	// tail), or ErrKeyNotFound.
	LIndex(ctx context.Context, key string, index int64) (string, error)

	// LLen returns the length of the list under key.
	LLen(ctx context.Context, key string) (int64, error)

	// Publish sends payload to all subscribers of channel.
	Publish(ctx context.Context, channel, payload string) error

	// Subscribe opens a subscription on channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Name returns an identifier for logging.
	Name() string
}
