package vault

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/himawari-dl/secret-vault/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerSaveSecretAndLoadSecret(t *testing.T) {
	vc := newTestContext(t, &stubEscrow{})
	m := NewManager(vc)

	record := SecretRecord{Kind: interfaces.ServiceApiKey, Payload: validApiKey()}
	require.True(t, m.SaveSecret(context.Background(), record, true))

	result := m.LoadSecret(context.Background(), record)
	require.NoError(t, result.Err)
	require.False(t, result.Absent)
	require.Equal(t, record.Payload, result.Payload)
}

func TestManagerSaveSecretReportsFailure(t *testing.T) {
	vc := newTestContext(t, &stubEscrow{})
	writeLocalKey(t, vc)
	m := NewManager(vc)

	// A directory squatting on the envelope path makes the write fail.
	require.NoError(t, os.MkdirAll(filepath.Join(vc.BaseDir, "api-key.enc"), 0755))

	record := SecretRecord{Kind: interfaces.ServiceApiKey, Payload: validApiKey()}
	require.False(t, m.SaveSecret(context.Background(), record, true))
}

func TestManagerSaveAllLoadAllRoundTrip(t *testing.T) {
	vc := newTestContext(t, &stubEscrow{})
	writeLocalKey(t, vc)
	m := NewManager(vc)

	records := []SecretRecord{
		{Kind: interfaces.SiteCookieJar, Site: "nekopost", Payload: validCookieJar()},
		{Kind: interfaces.ServiceApiKey, Payload: validApiKey()},
		{Kind: interfaces.OAuthRefreshToken, Payload: validRefreshToken()},
		{Kind: interfaces.CredentialPair, Payload: validCredentialPair()},
	}

	saved, err := m.SaveAll(context.Background(), records, true)
	require.NoError(t, err)
	require.Len(t, saved, len(records))
	for _, record := range records {
		assert.True(t, saved[record.Name()], record.Name())
	}

	loaded, err := m.LoadAll(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, loaded, len(records))
	for _, record := range records {
		result := loaded[record.Name()]
		require.NoError(t, result.Err, record.Name())
		require.False(t, result.Absent, record.Name())
		assert.Equal(t, record.Payload, result.Payload, record.Name())
	}
}

func TestManagerSaveAllIsolatesFailures(t *testing.T) {
	vc := newTestContext(t, &stubEscrow{})
	writeLocalKey(t, vc)
	m := NewManager(vc)

	// Only the API key worker can fail: its envelope path is blocked by a
	// directory. Its siblings must complete and report success regardless.
	require.NoError(t, os.MkdirAll(filepath.Join(vc.BaseDir, "api-key.enc"), 0755))

	records := []SecretRecord{
		{Kind: interfaces.SiteCookieJar, Site: "site-a", Payload: validCookieJar()},
		{Kind: interfaces.ServiceApiKey, Payload: validApiKey()},
		{Kind: interfaces.SiteCookieJar, Site: "site-c", Payload: validCookieJar()},
	}

	saved, err := m.SaveAll(context.Background(), records, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "service-api-key")

	// The result map covers the whole batch, failures included.
	require.Len(t, saved, 3)
	assert.True(t, saved["site-cookie-jar/site-a"])
	assert.False(t, saved["service-api-key"])
	assert.True(t, saved["site-cookie-jar/site-c"])

	loaded, err := m.LoadAll(context.Background(), []SecretRecord{records[0], records[2]})
	require.NoError(t, err)
	assert.Equal(t, validCookieJar(), loaded["site-cookie-jar/site-a"].Payload)
	assert.Equal(t, validCookieJar(), loaded["site-cookie-jar/site-c"].Payload)
}

func TestManagerLoadAllMixedOutcomes(t *testing.T) {
	vc := newTestContext(t, &stubEscrow{})
	writeLocalKey(t, vc)
	m := NewManager(vc)

	saved := SecretRecord{Kind: interfaces.ServiceApiKey, Payload: validApiKey()}
	require.True(t, m.SaveSecret(context.Background(), saved, true))

	records := []SecretRecord{
		saved,
		{Kind: interfaces.SiteCookieJar, Site: "Bad Site!"},
		{Kind: interfaces.OAuthRefreshToken},
	}

	loaded, err := m.LoadAll(context.Background(), records)
	require.Error(t, err)
	require.Len(t, loaded, 3)

	require.NoError(t, loaded["service-api-key"].Err)
	assert.Equal(t, saved.Payload, loaded["service-api-key"].Payload)

	assert.Error(t, loaded["site-cookie-jar/Bad Site!"].Err)

	result := loaded["oauth-refresh-token"]
	require.NoError(t, result.Err)
	assert.True(t, result.Absent)
	assert.Nil(t, result.Payload)
}
