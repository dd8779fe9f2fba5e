// Package interfaces defines the contracts between the components of the
// device command dispatch backend.
//
// # Core Types
//
// DeviceID and TaskID are validated identifier types. Task is the unit of
// dispatched work; its stored form carries a one-time symmetric key that
// only ever leaves the dispatcher through TaskProjection, which has no
// field for it. StatusReport is an append-only device liveness record.
//
// # Coordination Store
//
// CoordinationStore abstracts the shared store (Redis in production, an
// in-process implementation for tests and single-node deployments) that
// the distributed lock, the per-device task queues, and the notification
// channels are built on. The lock manager relies on SetNX being atomic
// across independent server processes; the queue relies on RPush/LPop
// atomicity for exactly-once consumption.
//
// # Key Registry
//
// KeyRegistry is the read-only view of device key material consumed by
// the dispatcher (public half, for wrapping task keys) and the liveness
// verifier (both halves, for challenge round-trips). Backends include
// in-memory, filesystem PEM layouts, Vault KV, and public-key-only S3
// mirrors.
//
// # Error Conventions
//
// Business outcomes (missing keys, template failures, lock timeouts) are
// absorbed into task status codes and returned normally. Infrastructure
// faults (ErrStoreUnavailable) propagate as errors, since they mean the
// core cannot make progress at all.
package interfaces
