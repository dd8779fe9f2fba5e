package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/avolkens/device-dispatch-backend/coordstore"
	"github.com/avolkens/device-dispatch-backend/cryptoutils"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/locker"
	"github.com/avolkens/device-dispatch-backend/registry"
	"github.com/avolkens/device-dispatch-backend/taskqueue"
)

type testEnv struct {
	dispatcher *Dispatcher
	registry   *registry.MemoryRegistry
	store      *coordstore.MemoryStore
	queue      *taskqueue.Queue
	tasks      *StoreTaskStore
	locks      *locker.Manager
	private    interfaces.DevicePrivkey
}

const testDevice = interfaces.DeviceID("edge-01")

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := coordstore.NewMemoryStore(log)
	reg := registry.NewMemoryRegistry()
	locks := locker.New(store, locker.Config{
		TTL:          time.Second,
		PollInterval: 5 * time.Millisecond,
		Grace:        50 * time.Millisecond,
	}, log)
	queue := taskqueue.New(store, log)
	tasks := NewTaskStore(store, log)

	public, private, err := cryptoutils.GenerateDeviceKeyPair()
	require.NoError(t, err)
	reg.Register(testDevice, interfaces.KeyPair{Public: public, Private: private})

	return &testEnv{
		dispatcher: New(reg, locks, queue, tasks, log),
		registry:   reg,
		store:      store,
		queue:      queue,
		tasks:      tasks,
		locks:      locks,
		private:    private,
	}
}

func TestDispatchSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.queue.SubscribeKeys(ctx, testDevice)
	require.NoError(t, err)
	defer sub.Close()

	proj, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID:     testDevice,
		Template:     "systemctl restart {{.service}}",
		Props:        map[string]any{"service": "telemetry"},
		ExecutionCwd: "/opt/agent",
	})
	require.NoError(t, err)

	assert.Equal(t, interfaces.StatusDispatched, proj.Status)
	require.NotEmpty(t, proj.SealedScript)
	assert.Equal(t, "/opt/agent", proj.ExecutionCwd)

	stored, err := env.tasks.Get(ctx, proj.ID)
	require.NoError(t, err)
	require.Len(t, stored.SymmetricKey, cryptoutils.TaskKeySize)

	// A device can unwrap the announced key and open the sealed script
	// with it.
	select {
	case wrapped := <-sub.Keys():
		key, err := cryptoutils.DecryptWithPrivateKey(env.private, wrapped)
		require.NoError(t, err)
		assert.Equal(t, stored.SymmetricKey, key)

		script, err := cryptoutils.OpenPayload(key, proj.SealedScript)
		require.NoError(t, err)
		assert.Equal(t, "systemctl restart telemetry", string(script))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for key announcement")
	}

	// The queued entry is the dispatched task.
	taskID, ok, err := env.queue.Consume(ctx, testDevice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, proj.ID, taskID)
}

func TestDispatchProjectionNeverLeaksKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	requests := []Request{
		{DeviceID: testDevice, Template: "ok"},
		{DeviceID: testDevice, Template: "{{.broken"},
		{DeviceID: "unregistered", Template: "ok"},
	}
	for _, req := range requests {
		proj, err := env.dispatcher.Dispatch(ctx, req)
		require.NoError(t, err)

		body, err := json.Marshal(proj)
		require.NoError(t, err)
		assert.NotContains(t, string(body), "symmetric_key")
	}
}

func TestDispatchStoresScriptSealed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	proj, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID: testDevice,
		Template: "echo {{.token}}",
		Props:    map[string]any{"token": "rotate-credential-7f3a"},
	})
	require.NoError(t, err)
	require.Equal(t, interfaces.StatusDispatched, proj.Status)

	// The raw stored record never contains the rendered script.
	raw, err := env.store.Get(ctx, "task:"+proj.ID.String())
	require.NoError(t, err)
	assert.False(t, strings.Contains(raw, "rotate-credential-7f3a"))

	// The sealed body opens back to the rendered script under the
	// task's one-time key.
	stored, err := env.tasks.Get(ctx, proj.ID)
	require.NoError(t, err)
	script, err := cryptoutils.OpenPayload(stored.SymmetricKey, stored.SealedScript)
	require.NoError(t, err)
	assert.Equal(t, "echo rotate-credential-7f3a", string(script))
}

func TestDispatchRegistryUnavailable(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := coordstore.NewMemoryStore(log)
	reg := new(registry.MockRegistry)
	reg.On("PublicKey", mock.Anything, testDevice).
		Return(nil, errors.New("registry backend unreachable"))

	locks := locker.New(store, locker.Config{
		TTL:          time.Second,
		PollInterval: 5 * time.Millisecond,
		Grace:        50 * time.Millisecond,
	}, log)
	queue := taskqueue.New(store, log)
	tasks := NewTaskStore(store, log)
	d := New(reg, locks, queue, tasks, log)
	ctx := context.Background()

	// A registry transport failure is not a missing key pair: the call
	// errors instead of recording a failed task.
	_, err := d.Dispatch(ctx, Request{DeviceID: testDevice, Template: "reboot"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrDeviceNotFound)

	_, ok, err := queue.Consume(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, ok, "nothing may be enqueued on a registry outage")
	reg.AssertExpectations(t)
}

func TestDispatchKeyPairMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	proj, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID: "unregistered",
		Template: "reboot",
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusKeyPairMissing, proj.Status)

	// The failure is still recorded for the task history.
	stored, err := env.tasks.Get(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusKeyPairMissing, stored.Status)
	assert.Empty(t, stored.SymmetricKey)

	// Nothing was enqueued.
	_, ok, err := env.queue.Consume(ctx, "unregistered")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchTemplateError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		template string
		props    map[string]any
	}{
		{"parse failure", "{{.unclosed", nil},
		{"missing prop", "run {{.missing}}", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj, err := env.dispatcher.Dispatch(ctx, Request{
				DeviceID: testDevice,
				Template: tt.template,
				Props:    tt.props,
			})
			require.NoError(t, err)
			assert.Equal(t, interfaces.StatusTemplateError, proj.Status)
			assert.Empty(t, proj.SealedScript)

			_, ok, err := env.queue.Consume(ctx, testDevice)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestDispatchLockUnavailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A competing holder keeps the device locked past the dispatcher's
	// whole retry window.
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	holder := locker.New(env.store, locker.Config{TTL: time.Minute}, log)
	_, err := holder.Acquire(ctx, testDevice.String())
	require.NoError(t, err)

	proj, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID: testDevice,
		Template: "reboot",
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusLockUnavailable, proj.Status)

	stored, err := env.tasks.Get(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusLockUnavailable, stored.Status)

	_, ok, err := env.queue.Consume(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, ok, "lock-unavailable tasks are never enqueued")
}

func TestDispatchKeyWrapError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.registry.Register("garbage-key", interfaces.KeyPair{
		Public: interfaces.DevicePubkey("-----BEGIN PUBLIC KEY-----\nnot a key\n-----END PUBLIC KEY-----\n"),
	})

	proj, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID: "garbage-key",
		Template: "reboot",
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusKeyWrapError, proj.Status)

	stored, err := env.tasks.Get(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusKeyWrapError, stored.Status)

	_, ok, err := env.queue.Consume(ctx, "garbage-key")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchSequenceMonotonic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		proj, err := env.dispatcher.Dispatch(ctx, Request{
			DeviceID: testDevice,
			Template: "noop",
		})
		require.NoError(t, err)
		assert.Greater(t, proj.Sequence, last)
		last = proj.Sequence
	}
}

func TestDispatchReleasesLock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.dispatcher.Dispatch(ctx, Request{
		DeviceID: testDevice,
		Template: "noop",
	})
	require.NoError(t, err)

	// The lock is free immediately after dispatch returns.
	lease, err := env.locks.Acquire(ctx, testDevice.String())
	require.NoError(t, err)
	require.NoError(t, env.locks.Release(ctx, lease))
}

func TestDispatchFIFOPerDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var dispatched []interfaces.TaskID
	for i := 0; i < 3; i++ {
		proj, err := env.dispatcher.Dispatch(ctx, Request{
			DeviceID: testDevice,
			Template: "noop",
		})
		require.NoError(t, err)
		dispatched = append(dispatched, proj.ID)
	}

	for _, want := range dispatched {
		got, ok, err := env.queue.Consume(ctx, testDevice)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok, err := env.queue.Consume(ctx, testDevice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskStoreRoundTrip(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tasks := NewTaskStore(coordstore.NewMemoryStore(log), log)
	ctx := context.Background()

	task := &interfaces.Task{
		ID:           interfaces.NewTaskID(),
		DeviceID:     testDevice,
		Sequence:     7,
		SealedScript: []byte{9, 8, 7},
		Status:       interfaces.StatusDispatched,
		SymmetricKey: []byte{1, 2, 3},
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, tasks.Put(ctx, task))

	got, err := tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task, got)

	_, err = tasks.Get(ctx, interfaces.NewTaskID())
	assert.ErrorIs(t, err, interfaces.ErrTaskNotFound)
}
