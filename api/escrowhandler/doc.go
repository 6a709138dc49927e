// Package escrowhandler contains both sides of the key escrow exchange: the
// Client used by the vault to deposit and recover its symmetric key, and a
// reference Handler implementing the service endpoints over an in-memory
// store for development and tests.
//
// # Protocol
//
// Every state-changing call is preceded by a handshake: GET /csrf-token
// issues a single-use CSRF token bound to a session cookie. The client then
// wraps outbound key material with RSA-OAEP under the server's public key
// (GET /rsa/public-key) and posts it to /get-key or /save-key; the server
// answers with material wrapped under the client's ephemeral public key.
// Digest methods for both directions are declared per request.
//
// # Failure semantics
//
//   - Connection and timeout errors are retried up to MaxAttempts with a
//     fixed delay, then surfaced as interfaces.ErrEscrowUnavailable
//   - HTTP 404 on /get-key means the token was rotated or expired and is
//     reported as interfaces.ErrStaleToken for silent recovery
//   - HTTP 5xx, a JSON error field, and malformed responses are fatal
//     protocol errors and are never retried
package escrowhandler
