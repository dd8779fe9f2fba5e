// Package cryptoutils provides the cryptographic primitives of the
// dispatch protocol: RSA device key pairs, RSA-OAEP wrap/unwrap of
// one-time task keys and liveness challenges, HKDF derivation of the
// per-task symmetric key, and AES-GCM sealing of task payloads.
//
// # Hybrid Dispatch Scheme
//
// Each task gets a fresh 32-byte symmetric key derived from high-entropy
// randomness salted with the task id. The payload is sealed under that
// key with AES-GCM; the key itself is wrapped with RSA-OAEP under the
// target device's registered public key and published on the device's
// notification channel. The symmetric key is never transmitted or
// returned in the clear.
//
// # Key Formats
//
// Public keys are PEM "PUBLIC KEY" (PKIX) blocks; private keys are PEM
// "PRIVATE KEY" (PKCS#8) blocks. PKCS#1 variants of both are accepted on
// parse for keys registered by older tooling.
package cryptoutils
