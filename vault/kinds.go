package vault

import (
	"fmt"
	"regexp"

	"github.com/himawari-dl/secret-vault/interfaces"
)

// SecretRecord is one logical secret: a kind, the site qualifier for cookie
// jars, and the payload bytes. Payloads for structured kinds are canonical
// JSON documents; the string kinds carry the raw token bytes.
type SecretRecord struct {
	Kind    interfaces.SecretKind
	Site    string
	Payload []byte
}

var sitePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Name returns the batch map key for the record: the kind slug, qualified
// with the site for cookie jars so two jars in one batch never collide.
func (r SecretRecord) Name() string {
	if r.Kind == interfaces.SiteCookieJar {
		return fmt.Sprintf("%s/%s", r.Kind, r.Site)
	}
	return r.Kind.String()
}

// fileName maps the record to its on-disk envelope file. One file per kind,
// one per site for cookie jars.
func (r SecretRecord) fileName() (string, error) {
	switch r.Kind {
	case interfaces.SiteCookieJar:
		if !sitePattern.MatchString(r.Site) {
			return "", fmt.Errorf("invalid site %q for cookie jar", r.Site)
		}
		return fmt.Sprintf("cookies-%s.enc", r.Site), nil
	case interfaces.ServiceApiKey:
		return "api-key.enc", nil
	case interfaces.OAuthRefreshToken:
		return "refresh-token.enc", nil
	case interfaces.CredentialPair:
		return "credentials.enc", nil
	}
	return "", fmt.Errorf("unknown secret kind %q", r.Kind)
}

var (
	apiKeyPattern       = regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}$`)
	refreshTokenPattern = regexp.MustCompile(`^[0-9A-Za-z_-]{43}$`)
)

// validatePayload checks a decrypted payload against the kind's schema or
// pattern. A validation failure is treated as corruption by the caller.
func validatePayload(kind interfaces.SecretKind, payload []byte) error {
	switch kind {
	case interfaces.SiteCookieJar:
		return validateJSON(cookieJarSchema, payload)
	case interfaces.CredentialPair:
		return validateJSON(credentialPairSchema, payload)
	case interfaces.ServiceApiKey:
		if !apiKeyPattern.Match(payload) {
			return fmt.Errorf("payload does not match API key format")
		}
		return nil
	case interfaces.OAuthRefreshToken:
		if !refreshTokenPattern.Match(payload) {
			return fmt.Errorf("payload does not match refresh token format")
		}
		return nil
	}
	return fmt.Errorf("unknown secret kind %q", kind)
}
