package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"go.uber.org/atomic"

	"github.com/avolkens/device-dispatch-backend/cryptoutils"
	"github.com/avolkens/device-dispatch-backend/interfaces"
	"github.com/avolkens/device-dispatch-backend/metrics"
)

// Request carries one dispatch call: the target device, the operator's
// script template, the properties the template is rendered with, and the
// working directory the device should execute in.
type Request struct {
	DeviceID     interfaces.DeviceID
	Template     string
	Props        map[string]any
	ExecutionCwd string
}

// Dispatcher creates, persists, and announces tasks. Business failures
// (missing key, contended lock, broken template, wrap failure) never
// abort the call: the task record is created anyway with a terminal
// failure status so callers can observe the outcome in their task
// history. Only coordination infrastructure failures surface as errors.
type Dispatcher struct {
	registry interfaces.KeyRegistry
	locks    interfaces.LockManager
	queue    interfaces.TaskQueue
	tasks    interfaces.TaskStore
	log      *slog.Logger

	seq atomic.Uint64
}

// New creates a dispatcher.
func New(registry interfaces.KeyRegistry, locks interfaces.LockManager, queue interfaces.TaskQueue, tasks interfaces.TaskStore, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		locks:    locks,
		queue:    queue,
		tasks:    tasks,
		log:      log,
	}
}

// Dispatch runs one task through the full pipeline: key lookup, lock,
// template render, one-time key derivation, script sealing, persistence,
// key wrap, and queue-then-notify. The script is persisted only in its
// sealed form, and the returned projection never carries the symmetric
// key regardless of outcome.
//
// The per-device lock is held only across the render/persist/announce
// window and is never taken twice, so no lock ordering issues exist.
// Release is best-effort; the TTL covers a failed release.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (interfaces.TaskProjection, error) {
	task := &interfaces.Task{
		ID:           interfaces.NewTaskID(),
		DeviceID:     req.DeviceID,
		Sequence:     d.seq.Add(1),
		Status:       interfaces.StatusPending,
		ExecutionCwd: req.ExecutionCwd,
		Props:        req.Props,
		CreatedAt:    time.Now().UTC(),
	}
	log := d.log.With(
		slog.String("task", task.ID.String()),
		slog.String("device", req.DeviceID.String()))

	pubkey, err := d.registry.PublicKey(ctx, req.DeviceID)
	if errors.Is(err, interfaces.ErrDeviceNotFound) {
		log.Warn("Device has no registered public key")
		task.Status = interfaces.StatusKeyPairMissing
	} else if err != nil {
		return interfaces.TaskProjection{}, fmt.Errorf("registry lookup for %s: %w", req.DeviceID, err)
	}

	var lease interfaces.Lease
	haveLock := false
	if !task.Status.Failed() {
		lease, err = d.locks.Acquire(ctx, req.DeviceID.String())
		if err != nil {
			// Retry ceiling and store error paths both land here: the
			// task is still recorded, just never enqueued or announced.
			log.Warn("Dispatch lock not acquired", "err", err)
			metrics.LockAcquisitionsTotal.WithLabelValues("failed").Inc()
			task.Status = interfaces.StatusLockUnavailable
		} else {
			metrics.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
			haveLock = true
		}
	}
	if haveLock {
		defer func() {
			if err := d.locks.Release(context.WithoutCancel(ctx), lease); err != nil {
				if errors.Is(err, interfaces.ErrNotLockOwner) {
					log.Error("Dispatch lock ownership violated on release", "err", err)
				} else {
					log.Warn("Dispatch lock release failed, waiting for TTL", "err", err)
				}
			}
		}()
	}

	if !task.Status.Failed() {
		script, err := renderScript(req.Template, req.Props)
		if err != nil {
			log.Warn("Script template rendering failed", "err", err)
			task.Status = interfaces.StatusTemplateError
		} else {
			key, err := cryptoutils.DeriveTaskKey(task.ID.String())
			if err != nil {
				return interfaces.TaskProjection{}, fmt.Errorf("derive task key: %w", err)
			}
			sealed, err := cryptoutils.SealPayload(key, []byte(script))
			if err != nil {
				return interfaces.TaskProjection{}, fmt.Errorf("seal script: %w", err)
			}
			task.SymmetricKey = key
			task.SealedScript = sealed
		}
	}

	if err := d.tasks.Put(ctx, task); err != nil {
		return interfaces.TaskProjection{}, err
	}

	if !task.Status.Failed() {
		wrapped, err := cryptoutils.EncryptWithPublicKey(pubkey, task.SymmetricKey)
		if err != nil {
			log.Warn("One-time key wrap failed", "err", err)
			task.Status = interfaces.StatusKeyWrapError
			if err := d.tasks.Put(ctx, task); err != nil {
				return interfaces.TaskProjection{}, err
			}
		} else {
			// The id must be queued before the key is published so a
			// device woken by the announcement finds a consumable entry.
			if err := d.queue.Enqueue(ctx, req.DeviceID, task.ID); err != nil {
				return interfaces.TaskProjection{}, err
			}
			if err := d.queue.NotifyKey(ctx, req.DeviceID, wrapped); err != nil {
				return interfaces.TaskProjection{}, err
			}
			task.Status = interfaces.StatusDispatched
			if err := d.tasks.Put(ctx, task); err != nil {
				return interfaces.TaskProjection{}, err
			}
			log.Info("Task dispatched", slog.Uint64("sequence", task.Sequence))
		}
	}

	metrics.DispatchesTotal.WithLabelValues(task.Status.String()).Inc()
	return task.Projection(), nil
}

// renderScript renders the operator template with the request props.
// Missing keys fail the render rather than emitting "<no value>".
func renderScript(tmpl string, props map[string]any) (string, error) {
	t, err := template.New("script").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, props); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}
