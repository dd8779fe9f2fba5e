// Package dispatch implements the task dispatcher, the write path of
// the service.
//
// A dispatch call renders the operator's script template, derives a
// one-time symmetric key for the task, persists the record, wraps the
// key under the device's registered RSA public key, and announces the
// task: the id is pushed onto the device's queue strictly before the
// wrapped key is published on its channel.
//
// The status policy is audit-first. A missing device key, a contended
// lock, a broken template, or a failed key wrap all produce a persisted
// task with a terminal negative status instead of an error, so the
// failure is observable in the device's task history. Errors are
// reserved for coordination infrastructure faults where no record can
// be made at all.
package dispatch
