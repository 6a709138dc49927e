package escrowhandler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/himawari-dl/secret-vault/api"
	"github.com/himawari-dl/secret-vault/cryptoutils"
)

// SessionCookieName carries the session identifier correlated with an issued
// CSRF token.
const SessionCookieName = "session"

// Handler implements the escrow service endpoints over an in-memory key
// store. It exists for local development and for exercising the escrow
// client against the real wire contract; escrowed keys do not survive a
// restart.
//
// Every state-changing request must present a CSRF token obtained from
// /csrf-token together with its correlated session cookie. Tokens are
// single-use per handshake.
type Handler struct {
	log *slog.Logger

	// Server-side RSA pair used to unwrap material sent by clients.
	privateKeyPEM []byte
	publicKeyPEM  []byte

	mu       sync.Mutex
	sessions map[string]string // session id -> outstanding CSRF token
	keys     map[string][]byte // key id token -> escrowed vault key
}

// NewHandler creates an escrow service handler with a freshly generated
// server key pair and an empty key store.
func NewHandler(log *slog.Logger) (*Handler, error) {
	privateKeyPEM, publicKeyPEM, err := cryptoutils.GenerateRSAKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate server key pair: %w", err)
	}

	return &Handler{
		log:           log,
		privateKeyPEM: privateKeyPEM,
		publicKeyPEM:  publicKeyPEM,
		sessions:      make(map[string]string),
		keys:          make(map[string][]byte),
	}, nil
}

// RegisterRoutes mounts the escrow endpoints on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/csrf-token", h.HandleCsrfToken)
	r.Get("/rsa/public-key", h.HandlePublicKey)
	r.Post("/get-key", h.HandleGetKey)
	r.Post("/save-key", h.HandleSaveKey)
}

// HandleCsrfToken issues a single-use CSRF token bound to a new session
// cookie.
func (h *Handler) HandleCsrfToken(w http.ResponseWriter, r *http.Request) {
	sessionID := uuid.NewString()
	csrfToken := uuid.NewString()

	h.mu.Lock()
	h.sessions[sessionID] = csrfToken
	h.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, http.StatusOK, api.CsrfResponse{CsrfToken: csrfToken})
}

// HandlePublicKey returns the server's PEM-encoded RSA public key.
func (h *Handler) HandlePublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.PublicKeyResponse{PublicKey: string(h.publicKeyPEM)})
}

// HandleGetKey returns an escrowed vault key wrapped under the client's
// ephemeral public key. Unknown or rotated tokens produce 404 so clients can
// discard them and recover.
func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	var req api.GetKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if !h.consumeCsrf(r, req.CsrfToken) {
		writeError(w, http.StatusBadRequest, "invalid or missing csrf token")
		return
	}

	clientDigest, serverDigest, ok := requestDigests(req.ClientDigestMethod, req.ServerDigestMethod)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported digest method")
		return
	}

	token, err := h.unwrap(req.KeyIdToken, serverDigest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not unwrap key_id_token")
		return
	}

	h.mu.Lock()
	key, found := h.keys[string(token)]
	h.mu.Unlock()
	if !found {
		h.log.Info("Key token not found", "remote", r.RemoteAddr)
		writeError(w, http.StatusNotFound, "key not found")
		return
	}

	wrapped, err := cryptoutils.EncryptWithPublicKey([]byte(req.ClientPublicKey), key, clientDigest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not wrap key under client public key")
		return
	}

	writeJSON(w, http.StatusOK, api.GetKeyResponse{
		SecretKey: base64.StdEncoding.EncodeToString(wrapped),
	})
}

// HandleSaveKey escrows a vault key and returns a newly issued key token
// wrapped under the client's ephemeral public key.
func (h *Handler) HandleSaveKey(w http.ResponseWriter, r *http.Request) {
	var req api.SaveKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if !h.consumeCsrf(r, req.CsrfToken) {
		writeError(w, http.StatusBadRequest, "invalid or missing csrf token")
		return
	}

	clientDigest, serverDigest, ok := requestDigests(req.ClientDigestMethod, req.ServerDigestMethod)
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported digest method")
		return
	}

	key, err := h.unwrap(req.SecretKey, serverDigest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not unwrap secret_key")
		return
	}

	if len(key) != cryptoutils.VaultKeySize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("secret key must be %d bytes", cryptoutils.VaultKeySize))
		return
	}

	token := uuid.NewString()
	h.mu.Lock()
	h.keys[token] = key
	h.mu.Unlock()

	wrapped, err := cryptoutils.EncryptWithPublicKey([]byte(req.ClientPublicKey), []byte(token), clientDigest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not wrap key_id_token under client public key")
		return
	}

	h.log.Info("Escrowed new vault key", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, api.SaveKeyResponse{
		KeyIdToken: base64.StdEncoding.EncodeToString(wrapped),
	})
}

// consumeCsrf validates and invalidates the CSRF token bound to the request's
// session cookie.
func (h *Handler) consumeCsrf(r *http.Request, token string) bool {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || token == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	issued, found := h.sessions[cookie.Value]
	if !found || issued != token {
		return false
	}
	delete(h.sessions, cookie.Value)
	return true
}

// unwrap base64-decodes and RSA-unwraps material sent under the server's
// public key.
func (h *Handler) unwrap(encoded string, digest cryptoutils.DigestMethod) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return cryptoutils.DecryptWithPrivateKey(h.privateKeyPEM, raw, digest)
}

func requestDigests(client, server string) (cryptoutils.DigestMethod, cryptoutils.DigestMethod, bool) {
	clientDigest := cryptoutils.DigestMethod(client)
	serverDigest := cryptoutils.DigestMethod(server)
	if !clientDigest.Valid() || !serverDigest.Valid() {
		return "", "", false
	}
	return clientDigest, serverDigest, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}
