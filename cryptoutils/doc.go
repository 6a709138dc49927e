// Package cryptoutils provides the cryptographic primitives for the secret
// vault: authenticated encryption of secrets at rest and asymmetric
// protection of key material in transit to the escrow service.
//
// Secrets on disk are sealed with ChaCha20-Poly1305 under a 256-bit vault
// key, with a fresh random nonce per operation. Key material exchanged with
// the escrow service is wrapped with RSA-2048 OAEP under an ephemeral key
// pair generated per client, layered on top of transport-level security.
//
// # Key Functions
//
//   - EncryptSecret / DecryptSecret - AEAD seal and open over byte payloads
//   - GenerateVaultKey - fresh random 256-bit symmetric key
//   - GenerateRSAKeyPair - ephemeral PEM-encoded 2048-bit transport key pair
//   - EncryptWithPublicKey / DecryptWithPrivateKey - RSA-OAEP wrap and unwrap
//     with a selectable digest (SHA-256 or SHA-512)
//
// # Security Considerations
//
//   - Nonces are generated from crypto/rand and never reused with a key
//   - Authentication failures surface as ErrDecryptionFailed; plaintext is
//     never returned on a failed open
//   - Malformed PEM material and unsupported digests are reported as
//     *FormatError rather than being coerced
//   - The transport key pair is held only in memory and never written out
package cryptoutils
