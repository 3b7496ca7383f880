package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/server"
	"github.com/Tyrowin/gochat-gateway/test/testhelpers"
	"github.com/stretchr/testify/require"
)

// TestHealthEndpointIntegration checks the plain text liveness endpoint.
func TestHealthEndpointIntegration(t *testing.T) {
	gw := testhelpers.StartGateway(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, gw.URL("/"))
	defer resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")
}

// TestHealthzReportsConnections checks that authenticated connections are counted.
func TestHealthzReportsConnections(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)
	gw.Connect(t, "alice")
	gw.Connect(t, "bob")

	resp := testhelpers.MakeRequest(t, http.MethodGet, gw.URL("/healthz"))
	defer resp.Body.Close()
	testhelpers.AssertContentType(t, resp, "application/json")

	var report struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Sessions    int    `json:"sessions"`
	}
	req.NoError(json.NewDecoder(resp.Body).Decode(&report))
	req.Equal("ok", report.Status)
	req.Equal(2, report.Connections)
	req.Equal(2, report.Sessions)
}

// TestMetricsEndpoint checks that gateway and runtime collectors are exported.
func TestMetricsEndpoint(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)
	gw.Connect(t, "alice")

	resp := testhelpers.MakeRequest(t, http.MethodGet, gw.URL("/metrics"))
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)
	req.Contains(string(body), "gochat_connects_total 1")
	req.Contains(string(body), "gochat_connections_active 1")
	req.Contains(string(body), "go_goroutines")
}

// TestWebSocketEndpointRejectsPost checks the method guard on the upgrade endpoint.
func TestWebSocketEndpointRejectsPost(t *testing.T) {
	gw := testhelpers.StartGateway(t)
	resp := testhelpers.MakeRequest(t, http.MethodPost, gw.URL("/ws"))
	defer resp.Body.Close()
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

// TestServerTimeouts checks the production timeouts applied by CreateServer.
func TestServerTimeouts(t *testing.T) {
	srv := server.CreateServer(":0", http.NewServeMux())
	require.Equal(t, 15*time.Second, srv.ReadTimeout)
	require.Equal(t, 15*time.Second, srv.WriteTimeout)
	require.Equal(t, 60*time.Second, srv.IdleTimeout)
	require.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
}
