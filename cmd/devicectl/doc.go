// Command devicectl is the device-side and operator tooling for the
// dispatch service.
//
// Subcommands:
//
//	keygen    generate a device RSA key pair in the file-registry layout
//	prove     produce a base64 plaintext/cipher pair for a status report
//	simulate  consume a device's task queue against a coordination store
package main
