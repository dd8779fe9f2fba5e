// Package liveness implements device status verification and reporting.
//
// A device proves its key pair is intact by round-tripping a challenge:
// the reporter submits a plaintext and a cipher, and the verifier
// decrypts the cipher with the device's registered private key and
// compares in constant time. Absence of either key half, any decrypt
// failure, and any mismatch map to distinguished negative report codes;
// an exact match is normal.
//
// Reports are append-only per device. The current status is derived
// from the latest report's age against a caller-supplied threshold: a
// stale or absent report means offline whatever the last code was.
package liveness
