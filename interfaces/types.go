// Package interfaces defines the core interfaces and types for the device
// command dispatch system. It provides the contract between components
// without implementation details.
package interfaces

import (
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DeviceID identifies a remote execution agent. Device identifiers double
// as coordination store key fragments, so the accepted charset is
// restricted to hostname-safe characters.
type DeviceID string

var deviceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9._-]{0,126}[a-zA-Z0-9])?$`)

// NewDeviceID creates a device ID with validation.
func NewDeviceID(id string) (DeviceID, error) {
	if !deviceIDRegex.MatchString(id) {
		return DeviceID(""), errors.New("invalid device id format")
	}
	return DeviceID(id), nil
}

// String returns the device ID as a string.
func (id DeviceID) String() string {
	return string(id)
}

// Validate checks if the device ID has a valid format.
func (id DeviceID) Validate() error {
	_, err := NewDeviceID(string(id))
	return err
}

// TaskID uniquely identifies a dispatched task.
type TaskID string

// NewTaskID generates a fresh random task ID.
func NewTaskID() TaskID {
	return TaskID(uuid.Must(uuid.NewRandom()).String())
}

// NewTaskIDFromString parses and validates a task ID.
func NewTaskIDFromString(id string) (TaskID, error) {
	if _, err := uuid.Parse(id); err != nil {
		return TaskID(""), errors.New("invalid task id format")
	}
	return TaskID(id), nil
}

// String returns the task ID as a string.
func (id TaskID) String() string {
	return string(id)
}

// TaskStatus is a signed status code carried by every task record.
// Negative values are terminal failures and are never retried by the
// dispatcher; positive values mark success or pending states.
type TaskStatus int

const (
	// StatusPending marks a task that has been created but not yet
	// queued and announced to its device.
	StatusPending TaskStatus = 1

	// StatusDispatched marks a task whose id has been enqueued and whose
	// wrapped key has been published on the device channel.
	StatusDispatched TaskStatus = 2

	// StatusLockUnavailable marks a task whose per-device dispatch lock
	// could not be acquired within the retry ceiling.
	StatusLockUnavailable TaskStatus = -1

	// StatusKeyPairMissing marks a task whose target device has no
	// registered public key.
	StatusKeyPairMissing TaskStatus = -2

	// StatusTemplateError marks a task whose script template failed to
	// render. No script is sealed or stored.
	StatusTemplateError TaskStatus = -3

	// StatusKeyWrapError marks a task whose one-time key could not be
	// wrapped under the device public key.
	StatusKeyWrapError TaskStatus = -4
)

// Failed reports whether the status is a terminal failure.
func (s TaskStatus) Failed() bool {
	return s < 0
}

// String returns the status name.
func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusDispatched:
		return "dispatched"
	case StatusLockUnavailable:
		return "lock-unavailable"
	case StatusKeyPairMissing:
		return "key-pair-missing"
	case StatusTemplateError:
		return "template-error"
	case StatusKeyWrapError:
		return "key-wrap-error"
	default:
		return "unknown"
	}
}

// ReportStatus is the resolved code of a device status report.
type ReportStatus int

const (
	// ReportNormal means the challenge round-tripped through the
	// device's registered key pair and matched.
	ReportNormal ReportStatus = 1

	// ReportKeyPairMissing means either half of the device key pair is
	// not registered.
	ReportKeyPairMissing ReportStatus = -1

	// ReportKeyPairInvalid means the key material failed to parse, the
	// cipher failed to decrypt, or the plaintext did not match.
	ReportKeyPairInvalid ReportStatus = -2
)

// String returns the report status name.
func (s ReportStatus) String() string {
	switch s {
	case ReportNormal:
		return "normal"
	case ReportKeyPairMissing:
		return "key-pair-missing"
	case ReportKeyPairInvalid:
		return "key-pair-invalid"
	default:
		return "unknown"
	}
}

// Task is one unit of remote script execution. The script body is
// stored sealed under the one-time symmetric key; the record also
// carries that key, which must never leave the dispatcher except
// through Projection, which strips it.
type Task struct {
	ID           TaskID         `json:"id"`
	DeviceID     DeviceID       `json:"device_id"`
	Sequence     uint64         `json:"sequence"`
	SealedScript []byte         `json:"sealed_script,omitempty"`
	Status       TaskStatus     `json:"status"`
	ExecutionCwd string         `json:"execution_cwd"`
	Props        map[string]any `json:"props"`
	SymmetricKey []byte         `json:"symmetric_key,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TaskProjection is the caller-facing view of a task. It has no field
// for the symmetric key at all, so a projection cannot leak it; the
// script appears only in its sealed form.
type TaskProjection struct {
	ID           TaskID         `json:"id"`
	DeviceID     DeviceID       `json:"device_id"`
	Sequence     uint64         `json:"sequence"`
	SealedScript []byte         `json:"sealed_script,omitempty"`
	Status       TaskStatus     `json:"status"`
	ExecutionCwd string         `json:"execution_cwd"`
	Props        map[string]any `json:"props"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Projection returns the task with all secret material stripped.
func (t *Task) Projection() TaskProjection {
	return TaskProjection{
		ID:           t.ID,
		DeviceID:     t.DeviceID,
		Sequence:     t.Sequence,
		SealedScript: t.SealedScript,
		Status:       t.Status,
		ExecutionCwd: t.ExecutionCwd,
		Props:        t.Props,
		CreatedAt:    t.CreatedAt,
	}
}

// StatusReport is one self-reported device status entry. Reports are
// append-only; the current status of a device is its most recent report.
type StatusReport struct {
	ReporterID string       `json:"reporter_id"`
	DeviceID   DeviceID     `json:"device_id"`
	StatusCode ReportStatus `json:"status_code"`
	System     string       `json:"system"`
	CreatedAt  time.Time    `json:"created_at"`
}
