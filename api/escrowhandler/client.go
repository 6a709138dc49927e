package escrowhandler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/himawari-dl/secret-vault/api"
	"github.com/himawari-dl/secret-vault/cryptoutils"
	"github.com/himawari-dl/secret-vault/interfaces"
)

const (
	// MaxAttempts bounds how often a request is tried on connection or
	// timeout errors before the escrow service is declared unavailable.
	MaxAttempts = 3

	// RetryDelay is the fixed wait between attempts.
	RetryDelay = 1 * time.Second

	// RequestTimeout applies per HTTP request, independent of the retry
	// budget.
	RequestTimeout = 30 * time.Second
)

// Client talks to the remote escrow service. It owns an ephemeral RSA key
// pair generated at construction and discarded with the client, so key
// material is wrapped end to end on top of transport security.
//
// Connection and timeout errors are retried up to MaxAttempts with a fixed
// delay; deterministic server-side rejections (HTTP 5xx, an error field, a
// response that fails the expected shape) are never retried.
type Client struct {
	serverURL string
	log       *slog.Logger
	http      *retryablehttp.Client

	privateKeyPEM []byte
	publicKeyPEM  []byte

	clientDigest cryptoutils.DigestMethod
	serverDigest cryptoutils.DigestMethod
}

// NewClient creates an escrow client with a fresh transport key pair.
func NewClient(serverURL string, clientDigest cryptoutils.DigestMethod, log *slog.Logger) (*Client, error) {
	if !clientDigest.Valid() {
		return nil, &cryptoutils.FormatError{Op: "client", Err: fmt.Errorf("unsupported digest method %q", string(clientDigest))}
	}

	privateKeyPEM, publicKeyPEM, err := cryptoutils.GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transport key pair: %w", err)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = MaxAttempts - 1
	httpClient.RetryWaitMin = RetryDelay
	httpClient.RetryWaitMax = RetryDelay
	httpClient.HTTPClient = &http.Client{Timeout: RequestTimeout}
	httpClient.Logger = nil
	// Retry transport failures only. A response, whatever its status, is a
	// deterministic server answer and retrying would not change it.
	httpClient.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}

	return &Client{
		serverURL:     serverURL,
		log:           log,
		http:          httpClient,
		privateKeyPEM: privateKeyPEM,
		publicKeyPEM:  publicKeyPEM,
		clientDigest:  clientDigest,
		serverDigest:  cryptoutils.ServerDigestFor(clientDigest),
	}, nil
}

// Handshake obtains a single-use CSRF token and its correlated session
// cookie. Statuses 200 and 404 are accepted at the status check; the body
// must still parse and carry a csrf_token.
func (c *Client) Handshake(ctx context.Context) (string, []*http.Cookie, error) {
	status, body, cookies, err := c.do(ctx, http.MethodGet, "/csrf-token", nil, nil)
	if err != nil {
		return "", nil, err
	}

	if status != http.StatusOK && status != http.StatusNotFound {
		return "", nil, c.reject("/csrf-token", status, body)
	}

	var parsed api.CsrfResponse
	if err := c.parse("/csrf-token", status, body, &parsed); err != nil {
		return "", nil, err
	}
	if parsed.CsrfToken == "" {
		return "", nil, c.malformed("/csrf-token", status, body, "missing csrf_token field")
	}

	return parsed.CsrfToken, cookies, nil
}

// FetchKey recovers an escrowed vault key. A 404 marks the token as rotated
// or expired and is reported as interfaces.ErrStaleToken so the caller can
// discard the token document and recover silently.
func (c *Client) FetchKey(ctx context.Context, token interfaces.KeyToken) ([]byte, error) {
	csrfToken, cookies, err := c.Handshake(ctx)
	if err != nil {
		return nil, err
	}

	wrappedToken, err := c.wrapForServer(ctx, []byte(token))
	if err != nil {
		return nil, err
	}

	req := api.GetKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(c.serverDigest),
		ClientPublicKey:    string(c.publicKeyPEM),
		ClientDigestMethod: string(c.clientDigest),
		KeyIdToken:         wrappedToken,
	}
	status, body, _, err := c.do(ctx, http.MethodPost, "/get-key", req, cookies)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusBadRequest:
		// fall through to body checks
	case http.StatusNotFound:
		return nil, interfaces.ErrStaleToken
	default:
		return nil, c.reject("/get-key", status, body)
	}

	var parsed api.GetKeyResponse
	if err := c.parse("/get-key", status, body, &parsed); err != nil {
		return nil, err
	}
	if parsed.SecretKey == "" {
		return nil, c.malformed("/get-key", status, body, "missing secret_key field")
	}

	key, err := c.readWrapped(parsed.SecretKey)
	if err != nil {
		return nil, c.malformed("/get-key", status, body, err.Error())
	}
	if len(key) != cryptoutils.VaultKeySize {
		return nil, c.malformed("/get-key", status, body, fmt.Sprintf("secret key has %d bytes", len(key)))
	}

	return key, nil
}

// SaveKey escrows the vault key and returns the token under which it can be
// recovered later.
func (c *Client) SaveKey(ctx context.Context, key []byte) (interfaces.KeyToken, error) {
	csrfToken, cookies, err := c.Handshake(ctx)
	if err != nil {
		return "", err
	}

	wrappedKey, err := c.wrapForServer(ctx, key)
	if err != nil {
		return "", err
	}

	req := api.SaveKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(c.serverDigest),
		ClientPublicKey:    string(c.publicKeyPEM),
		ClientDigestMethod: string(c.clientDigest),
		SecretKey:          wrappedKey,
	}
	status, body, _, err := c.do(ctx, http.MethodPost, "/save-key", req, cookies)
	if err != nil {
		return "", err
	}

	if status != http.StatusOK && status != http.StatusBadRequest {
		return "", c.reject("/save-key", status, body)
	}

	var parsed api.SaveKeyResponse
	if err := c.parse("/save-key", status, body, &parsed); err != nil {
		return "", err
	}
	if parsed.KeyIdToken == "" {
		return "", c.malformed("/save-key", status, body, "missing key_id_token field")
	}

	token, err := c.readWrapped(parsed.KeyIdToken)
	if err != nil {
		return "", c.malformed("/save-key", status, body, err.Error())
	}

	return interfaces.KeyToken(token), nil
}

// wrapForServer fetches the server's public key and wraps data under it with
// the server's digest, base64-encoded for transmission.
func (c *Client) wrapForServer(ctx context.Context, data []byte) (string, error) {
	status, body, _, err := c.do(ctx, http.MethodGet, "/rsa/public-key", nil, nil)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", c.reject("/rsa/public-key", status, body)
	}

	var parsed api.PublicKeyResponse
	if err := c.parse("/rsa/public-key", status, body, &parsed); err != nil {
		return "", err
	}
	if parsed.PublicKey == "" {
		return "", c.malformed("/rsa/public-key", status, body, "missing public_key field")
	}

	wrapped, err := cryptoutils.EncryptWithPublicKey([]byte(parsed.PublicKey), data, c.serverDigest)
	if err != nil {
		return "", fmt.Errorf("could not wrap payload for escrow service: %w", err)
	}

	return base64.StdEncoding.EncodeToString(wrapped), nil
}

// readWrapped base64-decodes and unwraps a response field encrypted under the
// client's ephemeral public key.
func (c *Client) readWrapped(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 in response: %w", err)
	}

	data, err := cryptoutils.DecryptWithPrivateKey(c.privateKeyPEM, raw, c.clientDigest)
	if err != nil {
		return nil, fmt.Errorf("could not unwrap response payload: %w", err)
	}

	return data, nil
}

// do performs one HTTP exchange under the retry policy and returns the
// status, body and cookies. Transport failures that exhaust the budget are
// reported as interfaces.ErrEscrowUnavailable.
func (c *Client) do(ctx context.Context, method, path string, payload any, cookies []*http.Cookie) (int, []byte, []*http.Cookie, error) {
	var rawBody []byte
	if payload != nil {
		var err error
		rawBody, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("could not encode request body: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.serverURL+path, rawBody)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("could not initialize request: %w", err)
	}
	if rawBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, ctx.Err()
		}
		c.log.Error("Escrow service unreachable", "endpoint", path, "attempts", MaxAttempts, "err", err)
		return 0, nil, nil, fmt.Errorf("%w: %v", interfaces.ErrEscrowUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: could not read response: %v", interfaces.ErrEscrowUnavailable, err)
	}

	return resp.StatusCode, body, resp.Cookies(), nil
}

// parse decodes a response body, surfacing a server-declared error field as a
// fatal protocol error.
func (c *Client) parse(endpoint string, status int, body []byte, out any) error {
	var serverErr api.ErrorResponse
	if err := json.Unmarshal(body, &serverErr); err != nil {
		return c.malformed(endpoint, status, body, "response is not valid JSON")
	}
	if serverErr.Error != "" {
		return c.reject(endpoint, status, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return c.malformed(endpoint, status, body, "response does not match expected shape")
	}
	return nil
}

func (c *Client) reject(endpoint string, status int, body []byte) error {
	c.log.Error("Escrow service rejected request", "endpoint", endpoint, "status", status, "body", string(body))
	return &interfaces.ProtocolError{Endpoint: endpoint, Status: status, Detail: string(body)}
}

func (c *Client) malformed(endpoint string, status int, body []byte, detail string) error {
	c.log.Error("Unexpected escrow service response", "endpoint", endpoint, "status", status, "body", string(body), "detail", detail)
	return &interfaces.ProtocolError{Endpoint: endpoint, Status: status, Detail: detail}
}
