// Package locker implements the distributed mutual-exclusion lock that
// guards per-device task dispatch.
//
// A lock is one key in the coordination store holding an opaque token
// unique to the acquisition. Acquire performs an atomic set-if-absent
// with a TTL; waiters poll at a fixed interval with a hard retry ceiling
// of (TTL + grace) / poll, so callers block at most roughly TTL + grace.
// Release is read-check-delete: only the matching token may delete the
// key, and a mismatch surfaces as ErrNotLockOwner.
//
// No fairness is guaranteed; concurrent acquirers race, and occasional
// starvation is bounded by the retry ceiling. A crashed holder's lock is
// reclaimed by TTL expiry.
package locker
