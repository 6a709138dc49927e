// Package interfaces defines the core types and contracts shared across the
// secret vault components without implementation details.
package interfaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/himawari-dl/secret-vault/cryptoutils"
)

type DigestMethod = cryptoutils.DigestMethod

// SecretKind identifies one of the closed set of secrets the vault manages.
// Each kind pairs a serialization format with an optional validation schema
// and owns a distinct file on disk.
type SecretKind string

const (
	// SiteCookieJar holds the session cookies for one site. There is one
	// cookie jar file per site.
	SiteCookieJar SecretKind = "site-cookie-jar"

	// ServiceApiKey holds a third-party service API key.
	ServiceApiKey SecretKind = "service-api-key"

	// OAuthRefreshToken holds an OAuth refresh token.
	OAuthRefreshToken SecretKind = "oauth-refresh-token"

	// CredentialPair holds a username plus API key credential document.
	CredentialPair SecretKind = "credential-pair"
)

// ParseSecretKind converts a kind slug to a SecretKind.
func ParseSecretKind(s string) (SecretKind, error) {
	switch SecretKind(s) {
	case SiteCookieJar, ServiceApiKey, OAuthRefreshToken, CredentialPair:
		return SecretKind(s), nil
	}
	return "", fmt.Errorf("unknown secret kind %q", s)
}

func (k SecretKind) String() string {
	return string(k)
}

// KeyToken is the opaque capability issued by the escrow service in exchange
// for an escrowed vault key. Its structure is meaningful only to the server.
type KeyToken string

// EscrowProvider is the contract the vault uses to recover or deposit its
// symmetric key with the remote escrow service.
type EscrowProvider interface {
	// FetchKey recovers the escrowed vault key for the given token.
	// A rotated or expired token is reported as ErrStaleToken.
	FetchKey(ctx context.Context, token KeyToken) ([]byte, error)

	// SaveKey deposits the vault key with the escrow service and returns the
	// token under which it can later be recovered.
	SaveKey(ctx context.Context, key []byte) (KeyToken, error)
}

var (
	// ErrEscrowUnavailable is returned when the escrow service could not be
	// reached within the retry budget.
	ErrEscrowUnavailable = errors.New("escrow service unavailable")

	// ErrStaleToken is returned by FetchKey when the escrow service no longer
	// recognizes the key token. The caller discards the token and generates a
	// fresh key; this error never reaches the vault's callers.
	ErrStaleToken = errors.New("key token no longer recognized by escrow service")
)

// ProtocolError reports a deterministic rejection or contract violation by
// the escrow service: an unexpected status, an error field in the body, or a
// response that fails the expected schema. It is never retried.
type ProtocolError struct {
	Endpoint string
	Status   int
	Detail   string
}

func (e *ProtocolError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("escrow %s returned %d: %s", e.Endpoint, e.Status, e.Detail)
	}
	return fmt.Sprintf("escrow %s: %s", e.Endpoint, e.Detail)
}
