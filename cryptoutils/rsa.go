package cryptoutils

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strconv"
)

// TransportKeyBits is the modulus size of the ephemeral RSA key pair used to
// protect key material in transit to the escrow service.
const TransportKeyBits = 2048

// DigestMethod selects the hash used for OAEP padding on transport encryption.
type DigestMethod string

const (
	DigestSHA256 DigestMethod = "sha256"
	DigestSHA512 DigestMethod = "sha512"
)

// Hash returns the crypto.Hash for the digest method.
func (d DigestMethod) Hash() (crypto.Hash, error) {
	switch d {
	case DigestSHA256:
		return crypto.SHA256, nil
	case DigestSHA512:
		return crypto.SHA512, nil
	default:
		return 0, &FormatError{Op: "digest", Err: fmt.Errorf("unsupported digest method %q", string(d))}
	}
}

// Valid reports whether d is a supported digest method.
func (d DigestMethod) Valid() bool {
	_, err := d.Hash()
	return err == nil
}

// DefaultClientDigest returns the digest method used when no preference has
// been cached yet: SHA-512 on 64-bit platforms, SHA-256 otherwise.
func DefaultClientDigest() DigestMethod {
	if strconv.IntSize == 64 {
		return DigestSHA512
	}
	return DigestSHA256
}

// ServerDigestFor returns the digest the escrow server wraps under, paired to
// the client's preference.
func ServerDigestFor(client DigestMethod) DigestMethod {
	if client == DigestSHA512 {
		return DigestSHA512
	}
	return DigestSHA256
}

// FormatError reports malformed key material or an unusable digest method
// passed to the transport encryption functions.
type FormatError struct {
	Op  string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("crypto format error in %s: %v", e.Op, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// GenerateRSAKeyPair generates a 2048-bit RSA key pair for transport
// encryption. The private key is returned as a PKCS#8 PEM block and the
// public key as a PKIX PEM block. The pair is meant to live only for the
// duration of the owning client and is never persisted.
func GenerateRSAKeyPair() (privateKeyPEM, publicKeyPEM []byte, err error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, TransportKeyBits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privateKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privateKeyBytes,
	})
	publicKeyPEM = pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return privateKeyPEM, publicKeyPEM, nil
}

// EncryptWithPublicKey encrypts data using RSA-OAEP with the given public key
// PEM. MGF1 uses the same digest as the OAEP label hash.
func EncryptWithPublicKey(publicKeyPEM, data []byte, digest DigestMethod) ([]byte, error) {
	hash, err := digest.Hash()
	if err != nil {
		return nil, err
	}

	// Parse public key
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, &FormatError{Op: "encrypt", Err: fmt.Errorf("failed to decode public key PEM")}
	}

	publicKeyInterface, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &FormatError{Op: "encrypt", Err: fmt.Errorf("failed to parse public key: %w", err)}
	}

	publicKey, ok := publicKeyInterface.(*rsa.PublicKey)
	if !ok {
		return nil, &FormatError{Op: "encrypt", Err: fmt.Errorf("not an RSA public key")}
	}

	ciphertext, err := rsa.EncryptOAEP(hash.New(), rand.Reader, publicKey, data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	return ciphertext, nil
}

// DecryptWithPrivateKey decrypts data encrypted with EncryptWithPublicKey
// using the corresponding private key PEM. The digest must match the one used
// for encryption; a mismatch fails rather than returning corrupted plaintext.
func DecryptWithPrivateKey(privateKeyPEM, ciphertext []byte, digest DigestMethod) ([]byte, error) {
	hash, err := digest.Hash()
	if err != nil {
		return nil, err
	}

	// Parse private key
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, &FormatError{Op: "decrypt", Err: fmt.Errorf("failed to decode private key PEM")}
	}

	privateKeyInterface, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &FormatError{Op: "decrypt", Err: fmt.Errorf("failed to parse private key: %w", err)}
	}

	privateKey, ok := privateKeyInterface.(*rsa.PrivateKey)
	if !ok {
		return nil, &FormatError{Op: "decrypt", Err: fmt.Errorf("not an RSA private key")}
	}

	plaintext, err := rsa.DecryptOAEP(hash.New(), rand.Reader, privateKey, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
