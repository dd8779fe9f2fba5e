package coordstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// subscriberBuffer bounds how many undelivered notifications a slow
// subscriber may hold before further publishes to it are dropped.
const subscriberBuffer = 64

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process CoordinationStore. It backs tests, the
// devicectl simulator, and single-node deployments; its SetNX, RPush and
// LPop are atomic under one mutex, which gives the same guarantees the
// production Redis store provides across processes.
type MemoryStore struct {
	mu          sync.Mutex
	entries     map[string]memoryEntry
	lists       map[string][]string
	subscribers map[string][]*memorySubscription
	log         *slog.Logger
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		entries:     make(map[string]memoryEntry),
		lists:       make(map[string][]string),
		subscribers: make(map[string][]*memorySubscription),
		log:         log,
	}
}

// expired reports whether the entry is past its TTL. Caller holds mu.
func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// SetNX atomically sets key if absent (or expired), with a TTL.
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.entries[key]; ok && !existing.expired(now) {
		return false, nil
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[key] = entry
	return true, nil
}

// Get returns the value under key, or ErrKeyNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		delete(s.entries, key)
		return "", interfaces.ErrKeyNotFound
	}
	return entry.value, nil
}

// Set unconditionally writes value under key with no expiry.
func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value}
	return nil
}

// Del removes key.
func (s *MemoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// RPush appends values to the tail of the list under key.
func (s *MemoryStore) RPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[key] = append(s.lists[key], values...)
	return nil
}

// LPop removes and returns the head of the list, or ErrKeyNotFound when
// the list is empty.
func (s *MemoryStore) LPop(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if len(list) == 0 {
		return "", interfaces.ErrKeyNotFound
	}

	head := list[0]
	s.lists[key] = list[1:]
	return head, nil
}

// LIndex returns the element at index; negative indexes count from the
// tail as in Redis.
func (s *MemoryStore) LIndex(ctx context.Context, key string, index int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[key]
	if index < 0 {
		index += int64(len(list))
	}
	if index < 0 || index >= int64(len(list)) {
		return "", interfaces.ErrKeyNotFound
	}
	return list[index], nil
}

// LLen returns the length of the list under key.
func (s *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int64(len(s.lists[key])), nil
}

// Publish delivers payload to all current subscribers of channel.
// Subscribers whose buffer is full miss the message; notification
// consumers poll the queue as well, so a dropped wake-up is not a lost
// task.
func (s *MemoryStore) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscribers[channel] {
		select {
		case sub.ch <- payload:
		default:
			s.log.Warn("Dropping notification for slow subscriber", "channel", channel)
		}
	}
	return nil
}

// Subscribe opens a subscription on channel.
func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (interfaces.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &memorySubscription{
		store:   s,
		channel: channel,
		ch:      make(chan string, subscriberBuffer),
	}
	s.subscribers[channel] = append(s.subscribers[channel], sub)
	return sub, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Name returns an identifier for logging.
func (s *MemoryStore) Name() string {
	return "memory"
}

type memorySubscription struct {
	store   *MemoryStore
	channel string
	ch      chan string
	once    sync.Once
}

func (sub *memorySubscription) Messages() <-chan string {
	return sub.ch
}

func (sub *memorySubscription) Close() error {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		defer sub.store.mu.Unlock()

		subs := sub.store.subscribers[sub.channel]
		for i, candidate := range subs {
			if candidate == sub {
				sub.store.subscribers[sub.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	})
	return nil
}
