package vault

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/himawari-dl/secret-vault/cryptoutils"
	"github.com/himawari-dl/secret-vault/interfaces"
)

// SecretVault binds a resolved vault key to one secret's on-disk envelope
// file and its kind-specific validation. The key is resolved once at
// construction; a vault instance caches no plaintext beyond its own
// lifetime.
type SecretVault struct {
	record SecretRecord
	vc     *VaultContext
	escrow interfaces.EscrowProvider

	key  []byte
	path string
	log  *slog.Logger
}

// NewSecretVault constructs a vault for one record, generating a fresh
// escrow client (and with it a fresh transport key pair) and resolving the
// vault key. Key resolution failures are fatal and propagate.
func NewSecretVault(ctx context.Context, vc *VaultContext, record SecretRecord) (*SecretVault, error) {
	path, err := vc.secretPath(record)
	if err != nil {
		return nil, err
	}

	escrow, err := vc.NewEscrow()
	if err != nil {
		return nil, fmt.Errorf("could not create escrow client: %w", err)
	}

	key, err := resolveKey(ctx, vc, escrow)
	if err != nil {
		return nil, err
	}

	return &SecretVault{
		record: record,
		vc:     vc,
		escrow: escrow,
		key:    key,
		path:   path,
		log:    vc.Log.With("secret", record.Name()),
	}, nil
}

// Save encrypts the record payload and writes the whole envelope file,
// creating parent directories as needed. Write failures are fatal.
func (v *SecretVault) Save() error {
	ciphertext, nonce, err := cryptoutils.EncryptSecret(v.record.Payload, v.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(v.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(v.path, encodeEnvelope(ciphertext, nonce), 0644); err != nil {
		return fmt.Errorf("failed to write secret file: %w", err)
	}

	v.log.Debug("Saved encrypted secret", "path", v.path, "size", len(v.record.Payload))
	return nil
}

// Load reads and decrypts the secret. An absent file yields (nil, nil). A
// malformed envelope, undecodable base64, failed authentication, or a
// payload that fails the kind's validation all mean the file is corrupt: it
// is discarded and (nil, nil) is returned so a future Save is never blocked.
func (v *SecretVault) Load() ([]byte, error) {
	data, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	ciphertext, nonce, err := parseEnvelope(data)
	if err != nil {
		return v.discardCorrupt("malformed envelope"), nil
	}

	plaintext, err := cryptoutils.DecryptSecret(ciphertext, v.key, nonce)
	if err != nil {
		return v.discardCorrupt("authentication failed"), nil
	}

	if err := validatePayload(v.record.Kind, plaintext); err != nil {
		return v.discardCorrupt(err.Error()), nil
	}

	return plaintext, nil
}

// discardCorrupt removes (or quarantines) a corrupt secret file. Cleanup is
// best-effort: a failed delete must not block the caller, who treats the
// secret as absent either way.
func (v *SecretVault) discardCorrupt(reason string) []byte {
	v.log.Warn("Discarding corrupt secret file", "path", v.path, "reason", reason)

	if v.vc.Options.KeepCorrupt {
		_ = os.Rename(v.path, v.path+".corrupt")
	} else {
		_ = os.Remove(v.path)
	}
	return nil
}

// PersistKey makes the resolved vault key durable: to the local key file
// when storeLocally is set, otherwise to the escrow service with the issued
// token written to the local token document. It is a no-op when the key file
// already holds this key, or when a token document already exists.
func (v *SecretVault) PersistKey(ctx context.Context, storeLocally bool) error {
	if raw, err := os.ReadFile(v.vc.keyPath()); err == nil && bytes.Equal(raw, v.key) {
		return nil
	}

	if _, err := os.Stat(v.vc.tokenPath()); err == nil {
		return nil
	}

	if err := os.MkdirAll(v.vc.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	if storeLocally {
		if err := os.WriteFile(v.vc.keyPath(), v.key, 0600); err != nil {
			return fmt.Errorf("failed to write key file: %w", err)
		}
		return nil
	}

	token, err := v.escrow.SaveKey(ctx, v.key)
	if err != nil {
		return fmt.Errorf("could not escrow vault key: %w", err)
	}

	if err := writeTokenDoc(v.vc.tokenPath(), token); err != nil {
		return err
	}

	v.log.Debug("Escrowed vault key", "tokenPath", v.vc.tokenPath())
	return nil
}
