package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrLockUnavailable is returned when lock acquisition exceeded its
	// retry ceiling. Callers may retry the whole operation later.
	ErrLockUnavailable = errors.New("lock unavailable: retry ceiling exceeded")

	// ErrNotLockOwner is returned when a release is attempted with a
	// token that does not match the current holder. It signals a logic
	// defect (the caller's lease expired and was re-acquired) and must
	// be surfaced loudly rather than swallowed.
	ErrNotLockOwner = errors.New("lock not owned by caller")

	// ErrTaskNotFound is returned when a task id has no stored record.
	ErrTaskNotFound = errors.New("task not found")
)

// Lease proves ownership of a named exclusive lock. Only the holder of
// the matching token may release it.
type Lease struct {
	Name  string
	Token string
}

// LockManager hands out named exclusive leases backed by the
// coordination store, with bounded retry and TTL-based crash recovery.
type LockManager interface {
	// Acquire blocks until the lock is granted, the retry ceiling is
	// exceeded (ErrLockUnavailable), the store fails, or ctx is done.
	Acquire(ctx context.Context, name string) (Lease, error)

	// Release frees the lock if lease.Token still owns it; otherwise
	// returns ErrNotLockOwner without deleting anything.
	Release(ctx context.Context, lease Lease) error
}

// TaskQueue is the durable per-device FIFO of pending task ids plus the
// per-device notification channel.
type TaskQueue interface {
	// Enqueue appends taskID to the device's queue.
	Enqueue(ctx context.Context, deviceID DeviceID, taskID TaskID) error

	// Consume pops the oldest pending task id. The boolean is false when
	// the queue is empty; an empty queue is not an error.
	Consume(ctx context.Context, deviceID DeviceID) (TaskID, bool, error)

	// NotifyKey publishes the wrapped one-time key on the device's
	// notification channel.
	NotifyKey(ctx context.Context, deviceID DeviceID, wrappedKey []byte) error
}

// TaskStore persists task records. Records are immutable after creation
// except for status transitions driven by execution reporting.
type TaskStore interface {
	Put(ctx context.Context, task *Task) error
	Get(ctx context.Context, id TaskID) (*Task, error)
}

// ReportStore persists device status reports append-only.
type ReportStore interface {
	// Append stores a new report.
	Append(ctx context.Context, report StatusReport) error

	// Latest returns the most recent report for the device by creation
	// order. The boolean is false when the device has never reported.
	Latest(ctx context.Context, deviceID DeviceID) (StatusReport, bool, error)
}
