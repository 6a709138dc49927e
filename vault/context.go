package vault

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/himawari-dl/secret-vault/api/escrowhandler"
	"github.com/himawari-dl/secret-vault/cryptoutils"
	"github.com/himawari-dl/secret-vault/interfaces"
)

const (
	keyFileName    = "secret.key"
	tokenFileName  = "key-id-token.json"
	configFileName = "config.json"
)

// Options tunes vault behavior that the defaults deliberately keep
// aggressive.
type Options struct {
	// KeepCorrupt quarantines corrupt secret files by renaming them with a
	// .corrupt suffix instead of deleting them.
	KeepCorrupt bool
}

// VaultContext carries the resolved per-installation state every vault and
// escrow call needs: the base directory, the digest preference, the logger,
// and the escrow client factory. It replaces process-wide globals; all state
// flows through it explicitly.
type VaultContext struct {
	BaseDir string

	ClientDigest cryptoutils.DigestMethod
	ServerDigest cryptoutils.DigestMethod

	Log     *slog.Logger
	Options Options

	// NewEscrow constructs the escrow provider for one SecretVault. Each
	// vault gets its own provider so the ephemeral transport key pair is
	// fresh per construction.
	NewEscrow func() (interfaces.EscrowProvider, error)
}

// NewVaultContext builds a VaultContext rooted at baseDir, loading the cached
// digest preference (writing the platform default on first use) and wiring
// the escrow client factory against escrowURL.
func NewVaultContext(baseDir, escrowURL string, log *slog.Logger, opts Options) (*VaultContext, error) {
	clientDigest, err := loadClientDigest(baseDir)
	if err != nil {
		return nil, err
	}

	vc := &VaultContext{
		BaseDir:      baseDir,
		ClientDigest: clientDigest,
		ServerDigest: cryptoutils.ServerDigestFor(clientDigest),
		Log:          log,
		Options:      opts,
	}
	vc.NewEscrow = func() (interfaces.EscrowProvider, error) {
		return escrowhandler.NewClient(escrowURL, clientDigest, log)
	}

	return vc, nil
}

func (vc *VaultContext) keyPath() string {
	return filepath.Join(vc.BaseDir, keyFileName)
}

func (vc *VaultContext) tokenPath() string {
	return filepath.Join(vc.BaseDir, tokenFileName)
}

func (vc *VaultContext) secretPath(record SecretRecord) (string, error) {
	name, err := record.fileName()
	if err != nil {
		return "", err
	}
	return filepath.Join(vc.BaseDir, name), nil
}

type configDoc struct {
	ClientDigestMethod string `json:"client_digest_method"`
}

// loadClientDigest reads the cached digest preference from config.json. On
// first use, or when the cached value is unusable, the platform default is
// chosen and written back.
func loadClientDigest(baseDir string) (cryptoutils.DigestMethod, error) {
	configPath := filepath.Join(baseDir, configFileName)

	if data, err := os.ReadFile(configPath); err == nil {
		var cfg configDoc
		if json.Unmarshal(data, &cfg) == nil {
			if digest := cryptoutils.DigestMethod(cfg.ClientDigestMethod); digest.Valid() {
				return digest, nil
			}
		}
	}

	digest := cryptoutils.DefaultClientDigest()

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create base directory: %w", err)
	}

	data, err := json.MarshalIndent(configDoc{ClientDigestMethod: string(digest)}, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}

	return digest, nil
}
