package taskqueue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkens/device-dispatch-backend/coordstore"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/metrics"
)

func newTestQueue() *Queue {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(coordstore.NewMemoryStore(log), log)
}

func TestEnqueueConsumeFIFO(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	device := interfaces.DeviceID("edge-01")

	ids := []interfaces.TaskID{
		interfaces.NewTaskID(),
		interfaces.NewTaskID(),
		interfaces.NewTaskID(),
	}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, device, id))
	}

	for _, want := range ids {
		got, ok, err := q.Consume(ctx, device)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestConsumeEmpty(t *testing.T) {
	q := newTestQueue()

	_, ok, err := q.Consume(context.Background(), interfaces.DeviceID("idle"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueuesIsolatedPerDevice(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	taskA := interfaces.NewTaskID()
	taskB := interfaces.NewTaskID()
	require.NoError(t, q.Enqueue(ctx, "device-a", taskA))
	require.NoError(t, q.Enqueue(ctx, "device-b", taskB))

	got, ok, err := q.Consume(ctx, "device-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, taskA, got)

	_, ok, err = q.Consume(ctx, "device-a")
	require.NoError(t, err)
	assert.False(t, ok, "device-a must not see device-b's task")
}

func TestConcurrentConsumeAtMostOnce(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	device := interfaces.DeviceID("contended")

	const total = 100
	enqueued := make(map[interfaces.TaskID]bool, total)
	for i := 0; i < total; i++ {
		id := interfaces.NewTaskID()
		enqueued[id] = true
		require.NoError(t, q.Enqueue(ctx, device, id))
	}

	var mu sync.Mutex
	seen := make(map[interfaces.TaskID]int, total)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, ok, err := q.Consume(ctx, device)
				require.NoError(t, err)
				if !ok {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "task %s delivered more than once", id)
		assert.True(t, enqueued[id])
	}
}

func TestQueueDepthGauge(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	device := interfaces.DeviceID("gauge-device")
	gauge := metrics.QueueDepth.WithLabelValues(device.String())

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, device, interfaces.NewTaskID()))
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(gauge))

	_, ok, err := q.Consume(ctx, device)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, float64(2), testutil.ToFloat64(gauge))

	for {
		_, ok, err := q.Consume(ctx, device)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(gauge))
}

func TestNotifyAndSubscribeKeys(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	device := interfaces.DeviceID("edge-02")

	sub, err := q.SubscribeKeys(ctx, device)
	require.NoError(t, err)
	defer sub.Close()

	wrapped := []byte{0x01, 0x02, 0xfe, 0xff}
	require.NoError(t, q.NotifyKey(ctx, device, wrapped))

	select {
	case got := <-sub.Keys():
		assert.Equal(t, wrapped, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key announcement")
	}
}

func TestQueueBeforeNotifyOrdering(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	device := interfaces.DeviceID("edge-03")

	sub, err := q.SubscribeKeys(ctx, device)
	require.NoError(t, err)
	defer sub.Close()

	taskID := interfaces.NewTaskID()
	require.NoError(t, q.Enqueue(ctx, device, taskID))
	require.NoError(t, q.NotifyKey(ctx, device, []byte("wrapped")))

	select {
	case <-sub.Keys():
		// A device reacting to the announcement finds the task queued.
		got, ok, err := q.Consume(ctx, device)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, taskID, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key announcement")
	}
}
