package integration

import (
	"context"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/server"
	"github.com/Tyrowin/gochat-gateway/test/testhelpers"
	"github.com/stretchr/testify/require"
)

// TestGracefulShutdownWithClients verifies that active client connections
// are closed and their sessions ended when the hub shuts down.
func TestGracefulShutdownWithClients(t *testing.T) {
	req := require.New(t)
	gw := testhelpers.StartGateway(t)

	clients := []*testhelpers.Client{
		gw.Connect(t, "alice"),
		gw.Connect(t, "bob"),
		gw.Connect(t, "carol"),
	}
	req.Equal(3, gw.App.Gateway.Sessions())

	req.NoError(gw.App.Hub.Shutdown(2 * time.Second))

	for _, c := range clients {
		req.NoError(c.Conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		_, _, err := c.Conn.ReadMessage()
		req.Error(err, "%s should be disconnected", c.User)
	}
	req.Zero(gw.App.Gateway.Sessions())
	req.Zero(gw.App.Hub.Len())

	online, err := gw.App.Presence.ListOnline(context.Background(), nil)
	req.NoError(err)
	req.Empty(online)
}

// TestRunStopsWhenContextIsCancelled verifies the process lifecycle used by
// the gateway binary.
func TestRunStopsWhenContextIsCancelled(t *testing.T) {
	a := testhelpers.NewApp(t, func(c *server.Config) { c.Addr = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
