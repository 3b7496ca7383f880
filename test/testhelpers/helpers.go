// Package testhelpers runs complete gateways for the end-to-end tests and
// speaks the client side of the wire protocol.
package testhelpers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/app"
	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/server"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const (
	// TestOrigin is the only browser origin a test gateway accepts.
	TestOrigin = "http://localhost:8080"
	testSecret = "integration-secret"
	readWait   = 2 * time.Second
)

// NewApp wires a gateway with an in-memory presence registry and a
// throwaway database. mutate may adjust the configuration first.
func NewApp(t *testing.T, mutate ...func(*server.Config)) *app.App {
	t.Helper()
	cfg := server.NewConfig()
	cfg.JWTSecret = testSecret
	cfg.BadgerPath = t.TempDir()
	cfg.AllowedOriginsList = TestOrigin
	cfg.ShutdownTimeout = 2 * time.Second
	for _, m := range mutate {
		m(&cfg)
	}

	a, err := app.New(context.Background(), cfg, logs.GetLoggerFromLevel(slog.LevelWarn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// Gateway is a running app behind an httptest server.
type Gateway struct {
	App    *app.App
	Server *httptest.Server
}

// StartGateway serves a new app until the test ends.
func StartGateway(t *testing.T, mutate ...func(*server.Config)) *Gateway {
	t.Helper()
	a := NewApp(t, mutate...)
	a.Server.StartHub()
	ts := httptest.NewServer(a.Server.Routes())
	t.Cleanup(func() {
		ts.Close()
		_ = a.Hub.Shutdown(time.Second)
	})
	return &Gateway{App: a, Server: ts}
}

// URL returns the address of path on the test server.
func (g *Gateway) URL(path string) string {
	return g.Server.URL + path
}

// WebSocketURL returns the ws:// address of the upgrade endpoint.
func (g *Gateway) WebSocketURL() string {
	return "ws" + strings.TrimPrefix(g.Server.URL, "http") + "/ws"
}

// Token signs a bearer token for user.
func (g *Gateway) Token(t *testing.T, user string) string {
	t.Helper()
	token, err := g.App.Verifier.Issue(domain.Identity{ID: domain.UserID(user), DisplayName: user}, time.Hour)
	require.NoError(t, err)
	return token
}

// Dial opens a raw WebSocket connection with the test origin plus header.
func (g *Gateway) Dial(url string, header http.Header, subprotocols ...string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: subprotocols}
	h := http.Header{"Origin": {TestOrigin}}
	for k, v := range header {
		h[k] = v
	}
	return dialer.Dial(url, h)
}

// Connect authenticates user with an Authorization header and consumes the
// connected signal.
func (g *Gateway) Connect(t *testing.T, user string) *Client {
	t.Helper()
	conn, resp, err := g.Dial(g.WebSocketURL(), http.Header{"Authorization": {"Bearer " + g.Token(t, user)}})
	require.NoError(t, err)
	_ = resp.Body.Close()
	c := &Client{Conn: conn, User: domain.UserID(user)}
	t.Cleanup(func() { _ = conn.Close() })

	var connected struct {
		ConnectionID domain.ConnectionID `json:"connectionId"`
	}
	c.Expect(t, "connected").Decode(t, &connected)
	c.ConnectionID = connected.ConnectionID
	return c
}

// Frame is one decoded outbound signal.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the signal payload into v.
func (f Frame) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(f.Data, v), "decoding %s", f.Event)
}

// ErrorType returns the type of an error signal.
func (f Frame) ErrorType(t *testing.T) string {
	t.Helper()
	require.Equal(t, "error", f.Event)
	var data struct {
		Type string `json:"type"`
	}
	f.Decode(t, &data)
	return data.Type
}

// Client is an authenticated test connection.
type Client struct {
	Conn         *websocket.Conn
	User         domain.UserID
	ConnectionID domain.ConnectionID
}

// Send writes one action envelope.
func (c *Client) Send(t *testing.T, event string, data any) {
	t.Helper()
	require.NoError(t, c.Conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// Next reads the next signal.
func (c *Client) Next(t *testing.T) Frame {
	t.Helper()
	require.NoError(t, c.Conn.SetReadDeadline(time.Now().Add(readWait)))
	var f Frame
	require.NoError(t, c.Conn.ReadJSON(&f), "%s waiting for a signal", c.User)
	return f
}

// Expect reads the next signal and requires it to be event.
func (c *Client) Expect(t *testing.T, event string) Frame {
	t.Helper()
	f := c.Next(t)
	require.Equal(t, event, f.Event, "%s: %s", c.User, string(f.Data))
	return f
}

// MakeRequest creates and executes an HTTP request with a 5 second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}
