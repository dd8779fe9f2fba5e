// Command dispatch-server runs the device command dispatch API.
//
// It wires the coordination store, the key registry, the per-device
// lock manager, the dispatcher, and the liveness verifier behind one
// HTTP server, with a separate prometheus metrics listener. SIGINT or
// SIGTERM triggers graceful shutdown.
//
// Example:
//
//	dispatch-server \
//	  --listen-addr 0.0.0.0:8080 \
//	  --store-uri redis://redis.internal:6379/0 \
//	  --registry-uri vault://vault.internal:8200/secret/devices?tls=true
package main
