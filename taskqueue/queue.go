package taskqueue

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/metrics"
)

// Queue is the store-backed implementation of interfaces.TaskQueue. Each
// device owns one FIFO list of pending task ids and one pub/sub channel
// on which wrapped one-time keys are announced. Both are plain
// coordination store keys, so every server instance sees the same queue.
type Queue struct {
	store interfaces.CoordinationStore
	log   *slog.Logger
}

// New creates a task queue on top of the coordination store.
func New(store interfaces.CoordinationStore, log *slog.Logger) *Queue {
	return &Queue{store: store, log: log}
}

func queueKey(deviceID interfaces.DeviceID) string {
	return "task-queue:" + deviceID.String()
}

func channelKey(deviceID interfaces.DeviceID) string {
	return "task-channel:" + deviceID.String()
}

// observeDepth refreshes the device's queue depth gauge from the store.
// Best-effort: a failed length read leaves the gauge stale.
func (q *Queue) observeDepth(ctx context.Context, deviceID interfaces.DeviceID) {
	depth, err := q.store.LLen(ctx, queueKey(deviceID))
	if err != nil {
		q.log.Debug("Queue depth read failed", "device", deviceID, "err", err)
		return
	}
	metrics.QueueDepth.WithLabelValues(deviceID.String()).Set(float64(depth))
}

// Enqueue appends the task id to the tail of the device's queue.
func (q *Queue) Enqueue(ctx context.Context, deviceID interfaces.DeviceID, taskID interfaces.TaskID) error {
	if err := q.store.RPush(ctx, queueKey(deviceID), taskID.String()); err != nil {
		return fmt.Errorf("enqueue task for %s: %w", deviceID, err)
	}
	q.observeDepth(ctx, deviceID)
	return nil
}

// Consume pops the oldest pending task id for the device. The boolean is
// false when the queue is empty. Atomicity of the pop is delegated to
// the store, so concurrent consumers never receive the same id.
func (q *Queue) Consume(ctx context.Context, deviceID interfaces.DeviceID) (interfaces.TaskID, bool, error) {
	value, err := q.store.LPop(ctx, queueKey(deviceID))
	if errors.Is(err, interfaces.ErrKeyNotFound) {
		metrics.QueueDepth.WithLabelValues(deviceID.String()).Set(0)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("consume task for %s: %w", deviceID, err)
	}
	q.observeDepth(ctx, deviceID)

	taskID, err := interfaces.NewTaskIDFromString(value)
	if err != nil {
		// A malformed queue entry is dropped rather than redelivered
		// forever; it can only appear through operator interference.
		q.log.Error("Dropping malformed queue entry", "device", deviceID, "entry", value)
		return "", false, fmt.Errorf("consume task for %s: %w", deviceID, err)
	}
	return taskID, true, nil
}

// NotifyKey publishes the wrapped one-time key on the device's channel.
// The key is base64-encoded for transport; it is already RSA-wrapped, so
// only the target device can recover the plaintext.
func (q *Queue) NotifyKey(ctx context.Context, deviceID interfaces.DeviceID, wrappedKey []byte) error {
	encoded := base64.StdEncoding.EncodeToString(wrappedKey)
	if err := q.store.Publish(ctx, channelKey(deviceID), encoded); err != nil {
		return fmt.Errorf("notify key for %s: %w", deviceID, err)
	}
	return nil
}

// KeySubscription delivers wrapped one-time keys published for a device.
type KeySubscription struct {
	sub  interfaces.Subscription
	keys chan []byte
}

// Keys returns the channel of wrapped keys. It is closed when the
// subscription is closed.
func (s *KeySubscription) Keys() <-chan []byte {
	return s.keys
}

// Close terminates the subscription.
func (s *KeySubscription) Close() error {
	return s.sub.Close()
}

// SubscribeKeys subscribes to the device's notification channel and
// decodes each announcement back to the wrapped key bytes. Undecodable
// messages are dropped with a warning.
func (q *Queue) SubscribeKeys(ctx context.Context, deviceID interfaces.DeviceID) (*KeySubscription, error) {
	sub, err := q.store.Subscribe(ctx, channelKey(deviceID))
	if err != nil {
		return nil, fmt.Errorf("subscribe keys for %s: %w", deviceID, err)
	}

	ks := &KeySubscription{sub: sub, keys: make(chan []byte)}
	go func() {
		defer close(ks.keys)
		for msg := range sub.Messages() {
			wrapped, err := base64.StdEncoding.DecodeString(msg)
			if err != nil {
				q.log.Warn("Dropping undecodable key announcement", "device", deviceID)
				continue
			}
			select {
			case ks.keys <- wrapped:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ks, nil
}
