package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/himawari-dl/secret-vault/api/escrowhandler"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	handler, err := escrowhandler.NewHandler(log)
	require.NoError(t, err)

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            10 * time.Millisecond,
		GracefulShutdownDuration: time.Second,
		ReadTimeout:              time.Second,
		WriteTimeout:             time.Second,
	}, handler)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getStatus(t *testing.T, client *http.Client, url string) int {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestHealthEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/livez"))
	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/readyz"))
}

func TestDrainUndrainCycle(t *testing.T) {
	_, ts := newTestServer(t)

	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/drain"))
	require.Equal(t, http.StatusServiceUnavailable, getStatus(t, ts.Client(), ts.URL+"/readyz"))

	// Draining twice is not an error.
	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/drain"))

	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/undrain"))
	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/readyz"))
}

func TestEscrowRoutesMounted(t *testing.T) {
	_, ts := newTestServer(t)

	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/csrf-token"))
	require.Equal(t, http.StatusOK, getStatus(t, ts.Client(), ts.URL+"/rsa/public-key"))
}
