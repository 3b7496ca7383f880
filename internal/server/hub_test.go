package server

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), metrics.NewUnregistered())
}

func addClient(h *Hub, id domain.ConnectionID, buffer int) *Client {
	c := &Client{id: id, send: make(chan []byte, buffer), hub: h, log: h.log}
	h.mutex.Lock()
	h.clients[id] = c
	h.mutex.Unlock()
	return c
}

func Test_Emit_Encodes_Envelope(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	c := addClient(h, "c1", 1)

	req.True(h.Emit("c1", protocol.LeftGroup(protocol.LeftGroupData{GroupID: "g1"})))

	var frame struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	req.NoError(json.Unmarshal(<-c.send, &frame))
	req.Equal("leftGroup", frame.Event)
	req.JSONEq(`{"groupId":"g1","timestamp":"0001-01-01T00:00:00Z"}`, string(frame.Data))
}

func Test_Emit_To_Unknown_Connection_Is_Dropped(t *testing.T) {
	h := newTestHub()
	require.False(t, h.Emit("ghost", protocol.LeftGroup(protocol.LeftGroupData{GroupID: "g1"})))
	require.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SignalsDropped))
}

func Test_Emit_Drops_Client_With_Full_Buffer(t *testing.T) {
	req := require.New(t)
	h := newTestHub()
	c := addClient(h, "c1", 1)
	signal := protocol.LeftGroup(protocol.LeftGroupData{GroupID: "g1"})

	req.True(h.Emit("c1", signal))
	req.False(h.Emit("c1", signal))
	req.Equal(0, h.Len())
	req.True(c.closed)
	req.Equal(1.0, testutil.ToFloat64(h.metrics.SignalsDropped))

	<-c.send
	_, open := <-c.send
	req.False(open)

	req.False(h.Emit("c1", signal))
}

func Test_Release_Ignores_Replaced_Client(t *testing.T) {
	h := newTestHub()
	stale := addClient(h, "c1", 1)
	current := addClient(h, "c1", 1)

	h.release(stale)
	require.Equal(t, 1, h.Len())
	require.False(t, current.closed)

	h.release(current)
	require.Equal(t, 0, h.Len())
}
