// Package vault persists sensitive application data on local disk in
// encrypted form and orchestrates the symmetric key's lifecycle between the
// local installation and the remote escrow service.
//
// Each secret kind owns one envelope file under the vault's base directory,
// sealed with ChaCha20-Poly1305 and encoded as base64(ciphertext) "." +
// base64(nonce). Decrypted payloads are validated against a kind-specific
// JSON Schema or pattern; any corruption (malformed envelope, failed
// authentication, failed validation) discards the file and reports the
// secret as absent, so a damaged file never blocks future writes.
//
// # Key resolution
//
// Every SecretVault resolves the installation's vault key at construction:
// a valid 32-byte local key file is authoritative; otherwise a locally held
// key token is redeemed with the escrow service; a stale token is discarded
// and a fresh key generated. The resolved key is persisted by PersistKey,
// either to the local key file or to the escrow service.
//
// # Batches
//
// Manager runs save/load for multiple secrets concurrently, one worker per
// secret, collecting per-secret outcomes. Workers are isolated: a failure is
// recorded and surfaced only after every worker has finished.
package vault
