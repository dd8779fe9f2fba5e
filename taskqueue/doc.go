// Package taskqueue implements the per-device task id queue and key
// notification channel on top of the coordination store.
//
// The queue is the ordering backbone of dispatch: a task id is pushed
// to the device's list strictly before its wrapped one-time key is
// published on the device's channel, so a device that reacts to a key
// announcement always finds the corresponding task already queued.
// Consumption is a non-blocking pop; an empty queue is a normal result,
// not an error.
package taskqueue
