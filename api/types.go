// Package api defines the wire contract between the vault's escrow client
// and the escrow service endpoints.
package api

// CsrfResponse is returned by GET /csrf-token together with a session cookie.
// The token is single-use and must accompany every state-changing request.
type CsrfResponse struct {
	CsrfToken string `json:"csrf_token"`
}

// PublicKeyResponse is returned by GET /rsa/public-key. The key is the
// server's PEM-encoded RSA public key used to wrap material sent to it.
type PublicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

// GetKeyRequest is the body of POST /get-key. KeyIdToken is base64 of the
// token wrapped with RSA-OAEP under the server's public key and digest.
type GetKeyRequest struct {
	CsrfToken          string `json:"csrf_token"`
	ServerDigestMethod string `json:"server_digest_method"`
	ClientPublicKey    string `json:"client_public_key"`
	ClientDigestMethod string `json:"client_digest_method"`
	KeyIdToken         string `json:"key_id_token"`
}

// GetKeyResponse carries the vault key, base64 of RSA-OAEP under the
// client's ephemeral public key and declared digest.
type GetKeyResponse struct {
	SecretKey string `json:"secret_key"`
}

// SaveKeyRequest is the body of POST /save-key. SecretKey is base64 of the
// vault key wrapped under the server's public key and digest.
type SaveKeyRequest struct {
	CsrfToken          string `json:"csrf_token"`
	ServerDigestMethod string `json:"server_digest_method"`
	ClientPublicKey    string `json:"client_public_key"`
	ClientDigestMethod string `json:"client_digest_method"`
	SecretKey          string `json:"secret_key"`
}

// SaveKeyResponse carries the newly issued key token, base64 of RSA-OAEP
// under the client's ephemeral public key and declared digest.
type SaveKeyResponse struct {
	KeyIdToken string `json:"key_id_token"`
}

// ErrorResponse is the error body any endpoint may return. A non-empty Error
// field marks a deterministic server-side rejection and is never retried.
type ErrorResponse struct {
	Error string `json:"error"`
}
