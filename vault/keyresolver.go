package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/himawari-dl/secret-vault/cryptoutils"
	"github.com/himawari-dl/secret-vault/interfaces"
)

// tokenDoc is the small local document holding the escrow key token.
type tokenDoc struct {
	KeyIdToken string `json:"key_id_token"`
}

// resolveKey resolves the installation's vault key for one SecretVault:
//
//	local key file (valid 32 bytes)  -> use it
//	token document present           -> fetch from escrow
//	fetch returns stale token        -> delete token doc, generate fresh
//	neither present                  -> generate fresh
//
// The resolved key is not persisted here; PersistKey does that once the
// caller has decided where the key should live. Escrow exhaustion and
// protocol errors are fatal and propagate.
func resolveKey(ctx context.Context, vc *VaultContext, escrow interfaces.EscrowProvider) ([]byte, error) {
	// A resident key file, if present and exactly 32 bytes, is always
	// authoritative. Any other length is ignored as if the file were absent.
	if raw, err := os.ReadFile(vc.keyPath()); err == nil {
		if len(raw) == cryptoutils.VaultKeySize {
			return raw, nil
		}
		vc.Log.Warn("Ignoring key file with invalid length", "path", vc.keyPath(), "size", len(raw))
	}

	token := readTokenDoc(vc.tokenPath())
	if token == "" {
		return cryptoutils.GenerateVaultKey()
	}

	key, err := escrow.FetchKey(ctx, token)
	if errors.Is(err, interfaces.ErrStaleToken) {
		// The escrow service rotated or expired the token. Discard it and
		// recover with a fresh key; this is not an error for the caller.
		vc.Log.Info("Escrowed key token is stale, generating fresh key", "path", vc.tokenPath())
		_ = os.Remove(vc.tokenPath())
		return cryptoutils.GenerateVaultKey()
	}
	if err != nil {
		return nil, fmt.Errorf("could not recover vault key from escrow: %w", err)
	}

	return key, nil
}

// readTokenDoc loads the key token from the local token document. A missing,
// unreadable or malformed document yields an empty token, which the resolver
// treats as "no token".
func readTokenDoc(path string) interfaces.KeyToken {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	var doc tokenDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}

	return interfaces.KeyToken(doc.KeyIdToken)
}

// writeTokenDoc persists a freshly issued key token.
func writeTokenDoc(path string, token interfaces.KeyToken) error {
	data, err := json.MarshalIndent(tokenDoc{KeyIdToken: string(token)}, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode token document: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token document: %w", err)
	}

	return nil
}
