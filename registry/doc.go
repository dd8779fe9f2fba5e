// Package registry provides key registry backends holding device RSA
// key material behind the interfaces.KeyRegistry contract.
//
// The registry is read-only from the dispatch core's perspective:
// registration and rotation are operator concerns performed directly
// against the backing store. Four backends exist:
//
//   - MemoryRegistry: in-process, seeded programmatically; tests and
//     the devicectl simulator.
//   - FileRegistry: one directory per device holding public.pem and
//     private.pem; rotation is a file swap.
//   - VaultRegistry: KV v2 secret per device with public_key and
//     private_key fields; the production backend for complete pairs.
//   - S3Registry: public-half-only mirror for dispatch-heavy fleets
//     whose private halves never leave Vault.
//
// Backends are created from URIs via RegistryFactory, for example
// vault://vault.example.com:8200/secret/devices?tls=true.
package registry
