package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// VaultKeySize is the size in bytes of the symmetric key protecting secrets at rest.
const VaultKeySize = chacha20poly1305.KeySize

// ErrDecryptionFailed is returned when an authenticated decryption fails.
// This covers a wrong key as well as tampered ciphertext or nonce; the
// construction cannot distinguish between them.
var ErrDecryptionFailed = errors.New("authenticated decryption failed")

// GenerateVaultKey generates a fresh random 256-bit symmetric key.
func GenerateVaultKey() ([]byte, error) {
	key := make([]byte, VaultKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncryptSecret encrypts plaintext with ChaCha20-Poly1305 under the given
// 32-byte key. A fresh random nonce is generated for every call and returned
// alongside the ciphertext; it is never reused with the same key.
func EncryptSecret(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// DecryptSecret decrypts ciphertext produced by EncryptSecret. Any
// authentication failure (wrong key, tampered ciphertext, tampered nonce)
// is reported as ErrDecryptionFailed.
func DecryptSecret(ciphertext, key, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: invalid nonce length %d", ErrDecryptionFailed, len(nonce))
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}
