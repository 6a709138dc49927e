package escrowhandler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/himawari-dl/secret-vault/api"
	"github.com/himawari-dl/secret-vault/cryptoutils"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Handler, *httptest.Server) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler, err := NewHandler(logger)
	require.NoError(t, err)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return handler, server
}

// handshake fetches a CSRF token and session cookie directly over HTTP.
func handshake(t *testing.T, serverURL string) (string, []*http.Cookie) {
	t.Helper()

	resp, err := http.Get(serverURL + "/csrf-token")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed api.CsrfResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.CsrfToken)
	require.NotEmpty(t, resp.Cookies())

	return parsed.CsrfToken, resp.Cookies()
}

func serverPublicKey(t *testing.T, serverURL string) []byte {
	t.Helper()

	resp, err := http.Get(serverURL + "/rsa/public-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var parsed api.PublicKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.NotEmpty(t, parsed.PublicKey)

	return []byte(parsed.PublicKey)
}

func postJSON(t *testing.T, url string, body any, cookies []*http.Cookie) *http.Response {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHandleSaveAndGetKey(t *testing.T) {
	_, server := newTestService(t)

	clientPriv, clientPub, err := cryptoutils.GenerateRSAKeyPair()
	require.NoError(t, err)

	key, err := cryptoutils.GenerateVaultKey()
	require.NoError(t, err)

	// Escrow the key.
	csrfToken, cookies := handshake(t, server.URL)
	serverPub := serverPublicKey(t, server.URL)

	wrappedKey, err := cryptoutils.EncryptWithPublicKey(serverPub, key, cryptoutils.DigestSHA256)
	require.NoError(t, err)

	resp := postJSON(t, server.URL+"/save-key", api.SaveKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    string(clientPub),
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		SecretKey:          base64.StdEncoding.EncodeToString(wrappedKey),
	}, cookies)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var saveResp api.SaveKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saveResp))

	rawToken, err := base64.StdEncoding.DecodeString(saveResp.KeyIdToken)
	require.NoError(t, err)
	token, err := cryptoutils.DecryptWithPrivateKey(clientPriv, rawToken, cryptoutils.DigestSHA256)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// Recover it with a fresh handshake.
	csrfToken, cookies = handshake(t, server.URL)
	wrappedToken, err := cryptoutils.EncryptWithPublicKey(serverPub, token, cryptoutils.DigestSHA256)
	require.NoError(t, err)

	resp = postJSON(t, server.URL+"/get-key", api.GetKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    string(clientPub),
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		KeyIdToken:         base64.StdEncoding.EncodeToString(wrappedToken),
	}, cookies)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var getResp api.GetKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&getResp))

	rawKey, err := base64.StdEncoding.DecodeString(getResp.SecretKey)
	require.NoError(t, err)
	recovered, err := cryptoutils.DecryptWithPrivateKey(clientPriv, rawKey, cryptoutils.DigestSHA256)
	require.NoError(t, err)
	require.Equal(t, key, recovered)
}

func TestHandleGetKeyUnknownToken(t *testing.T) {
	_, server := newTestService(t)

	_, clientPub, err := cryptoutils.GenerateRSAKeyPair()
	require.NoError(t, err)

	csrfToken, cookies := handshake(t, server.URL)
	serverPub := serverPublicKey(t, server.URL)

	wrappedToken, err := cryptoutils.EncryptWithPublicKey(serverPub, []byte("no-such-token"), cryptoutils.DigestSHA256)
	require.NoError(t, err)

	resp := postJSON(t, server.URL+"/get-key", api.GetKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    string(clientPub),
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		KeyIdToken:         base64.StdEncoding.EncodeToString(wrappedToken),
	}, cookies)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotEmpty(t, errResp.Error)
}

func TestCsrfTokenIsSingleUse(t *testing.T) {
	_, server := newTestService(t)

	csrfToken, cookies := handshake(t, server.URL)

	// First use consumes the token (body is malformed on purpose, but the
	// CSRF check runs on a well-formed request only; send a real one).
	resp := postJSON(t, server.URL+"/get-key", api.GetKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    "irrelevant",
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		KeyIdToken:         "irrelevant",
	}, cookies)
	resp.Body.Close()

	// Second use of the same token must be rejected.
	resp = postJSON(t, server.URL+"/get-key", api.GetKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    "irrelevant",
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		KeyIdToken:         "irrelevant",
	}, cookies)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.Contains(t, errResp.Error, "csrf")
}

func TestPostWithoutSessionCookie(t *testing.T) {
	_, server := newTestService(t)

	csrfToken, _ := handshake(t, server.URL)

	resp := postJSON(t, server.URL+"/save-key", api.SaveKeyRequest{
		CsrfToken:          csrfToken,
		ServerDigestMethod: string(cryptoutils.DigestSHA256),
		ClientPublicKey:    "irrelevant",
		ClientDigestMethod: string(cryptoutils.DigestSHA256),
		SecretKey:          "irrelevant",
	}, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
