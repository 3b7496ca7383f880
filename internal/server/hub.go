package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/metrics"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
)

// Hub owns the table of live WebSocket clients and delivers outbound signals
// to them. It implements protocol.Emitter.
type Hub struct {
	clients    map[domain.ConnectionID]*Client
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewHub returns a Hub; call Run to start its event loop.
func NewHub(log *slog.Logger, m *metrics.Metrics) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[domain.ConnectionID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
		metrics:    m,
	}
}

// Emit encodes s and queues it on conn's send buffer. A client whose buffer
// is full is dropped.
func (h *Hub) Emit(conn domain.ConnectionID, s protocol.Signal) bool {
	payload, err := json.Marshal(s)
	if err != nil {
		h.log.Error("Encoding signal failed", "conn_id", conn, "event", s.Event, "error", err)
		return false
	}

	h.mutex.RLock()
	client, exists := h.clients[conn]
	h.mutex.RUnlock()
	if !exists {
		h.metrics.SignalsDropped.Inc()
		return false
	}
	if h.safeSend(client, payload) {
		return true
	}
	h.metrics.SignalsDropped.Inc()
	h.removeFailedClient(client)
	return false
}

// Len counts registered clients.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "conn_id", client.id, "panic", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run is the hub's event loop. It starts the pumps of each registered
// client and releases unregistered ones until Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("Client registered", "conn_id", client.id, "addr", client.addr, "clients", clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump(h.ctx)
			}()

		case client := <-h.unregister:
			h.release(client)
		}
	}
}

// registerClient hands client to the event loop. It fails once the hub is shutting down.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.release(client)
	}
}

// release removes client from the table and closes its send buffer, which
// makes the write pump send a close frame.
func (h *Hub) release(client *Client) {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.log.Debug("Client unregistered", "conn_id", client.id, "addr", client.addr, "clients", clientCount)
}

// removeFailedClient drops a client that cannot keep up with its signals.
func (h *Hub) removeFailedClient(client *Client) {
	h.mutex.RLock()
	current, ok := h.clients[client.id]
	h.mutex.RUnlock()
	if ok && current == client {
		h.log.Warn("Client removed due to full send buffer", "conn_id", client.id, "addr", client.addr)
		h.release(client)
	}
}

func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("Error closing client connection", "conn_id", client.id, "error", err)
		}
	}
	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the event loop, closes every client connection and waits
// for their pumps to finish or for timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some client goroutines may still be running")
		return context.DeadlineExceeded
	}
}
