package vault

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/himawari-dl/secret-vault/api/escrowhandler"
	"github.com/himawari-dl/secret-vault/interfaces"
	"github.com/stretchr/testify/require"
)

// newEscrowBackedContext wires a vault context against a real in-process
// escrow service, exercising the full wire protocol end to end.
func newEscrowBackedContext(t *testing.T) *VaultContext {
	t.Helper()

	handler, err := escrowhandler.NewHandler(testLogger())
	require.NoError(t, err)

	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	vc, err := NewVaultContext(t.TempDir(), srv.URL, testLogger(), Options{})
	require.NoError(t, err)
	return vc
}

func TestSaveLoadThroughEscrowService(t *testing.T) {
	vc := newEscrowBackedContext(t)
	m := NewManager(vc)

	record := SecretRecord{Kind: interfaces.ServiceApiKey, Payload: validApiKey()}
	require.True(t, m.SaveSecret(context.Background(), record, false))

	// The key traveled to the escrow service: only the token document stays
	// behind.
	require.FileExists(t, vc.tokenPath())
	require.NoFileExists(t, vc.keyPath())

	result := m.LoadSecret(context.Background(), record)
	require.NoError(t, result.Err)
	require.Equal(t, record.Payload, result.Payload)
}

func TestStaleEscrowTokenRotation(t *testing.T) {
	vc := newEscrowBackedContext(t)
	m := NewManager(vc)

	// A token document left over from before the service rotated its keys.
	// The service no longer knows the token and answers 404.
	require.NoError(t, writeTokenDoc(vc.tokenPath(), "00000000-0000-0000-0000-000000000000"))

	record := SecretRecord{Kind: interfaces.OAuthRefreshToken, Payload: validRefreshToken()}
	require.True(t, m.SaveSecret(context.Background(), record, false))

	// Recovery replaced the stale token with one freshly issued for the new
	// vault key.
	token := readTokenDoc(vc.tokenPath())
	require.NotEmpty(t, token)
	require.NotEqual(t, interfaces.KeyToken("00000000-0000-0000-0000-000000000000"), token)

	result := m.LoadSecret(context.Background(), record)
	require.NoError(t, result.Err)
	require.Equal(t, record.Payload, result.Payload)
}

func TestSaveAllSharedEscrowedKey(t *testing.T) {
	vc := newEscrowBackedContext(t)
	m := NewManager(vc)

	// Seed the token document with a single escrowed key so the concurrent
	// workers all resolve the same key instead of racing to escrow their
	// own.
	seed := SecretRecord{Kind: interfaces.CredentialPair, Payload: validCredentialPair()}
	require.True(t, m.SaveSecret(context.Background(), seed, false))

	records := []SecretRecord{
		{Kind: interfaces.SiteCookieJar, Site: "nekopost", Payload: validCookieJar()},
		{Kind: interfaces.ServiceApiKey, Payload: validApiKey()},
		{Kind: interfaces.OAuthRefreshToken, Payload: validRefreshToken()},
	}

	saved, err := m.SaveAll(context.Background(), records, false)
	require.NoError(t, err)
	for _, record := range records {
		require.True(t, saved[record.Name()], record.Name())
	}

	loaded, err := m.LoadAll(context.Background(), records)
	require.NoError(t, err)
	for _, record := range records {
		result := loaded[record.Name()]
		require.NoError(t, result.Err, record.Name())
		require.Equal(t, record.Payload, result.Payload, record.Name())
	}
}
