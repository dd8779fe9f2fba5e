package coordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avolkens/device-dispatch-backend/interfaces"
)

// RedisStore is the production CoordinationStore. All primitives map
// directly onto single Redis commands, so their atomicity holds across
// any number of server instances sharing the same Redis.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
	uri    string
}

// NewRedisStore creates a store from a redis:// or rediss:// URI.
func NewRedisStore(uri string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URI: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		log:    log,
		uri:    uri,
	}, nil
}

// storeErr classifies a Redis error as an infrastructure fault.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", interfaces.ErrStoreUnavailable, op, err)
}

// SetNX maps to SET key value NX EX ttl.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, storeErr("setnx", err)
	}
	return ok, nil
}

// Get maps to GET.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", storeErr("get", err)
	}
	return value, nil
}

// Set maps to SET with no expiry.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return storeErr("set", err)
	}
	return nil
}

// Del maps to DEL.
func (s *RedisStore) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return storeErr("del", err)
	}
	return nil
}

// RPush maps to RPUSH.
func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	if err := s.client.RPush(ctx, key, args...).Err(); err != nil {
		return storeErr("rpush", err)
	}
	return nil
}

// LPop maps to LPOP; an empty list yields ErrKeyNotFound.
func (s *RedisStore) LPop(ctx context.Context, key string) (string, error) {
	value, err := s.client.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", storeErr("lpop", err)
	}
	return value, nil
}

// LIndex maps to LINDEX.
func (s *RedisStore) LIndex(ctx context.Context, key string, index int64) (string, error) {
	value, err := s.client.LIndex(ctx, key, index).Result()
	if errors.Is(err, redis.Nil) {
		return "", interfaces.ErrKeyNotFound
	}
	if err != nil {
		return "", storeErr("lindex", err)
	}
	return value, nil
}

// LLen maps to LLEN.
func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	length, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, storeErr("llen", err)
	}
	return length, nil
}

// Publish maps to PUBLISH.
func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return storeErr("publish", err)
	}
	return nil
}

// Subscribe maps to SUBSCRIBE. Messages are pumped from the go-redis
// subscription into a plain string channel until Close is called.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (interfaces.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)

	// Wait for the subscription to be confirmed so a Publish issued
	// right after Subscribe returns is not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, storeErr("subscribe", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan string, subscriberBuffer),
	}
	go sub.pump()
	return sub, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Name returns an identifier for logging.
func (s *RedisStore) Name() string {
	return "redis"
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan string
}

func (sub *redisSubscription) pump() {
	defer close(sub.ch)
	for msg := range sub.pubsub.Channel() {
		sub.ch <- msg.Payload
	}
}

func (sub *redisSubscription) Messages() <-chan string {
	return sub.ch
}

func (sub *redisSubscription) Close() error {
	return sub.pubsub.Close()
}
