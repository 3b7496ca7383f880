// Package protocoltest provides an in-memory Emitter for tests.
package protocoltest

import (
	"sync"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/Tyrowin/gochat-gateway/internal/protocol"
)

// Recorder stores every emitted signal per connection. Connections listed
// in Offline refuse delivery.
type Recorder struct {
	mu      sync.Mutex
	signals map[domain.ConnectionID][]protocol.Signal
	offline map[domain.ConnectionID]bool
}

func NewRecorder() *Recorder {
	return &Recorder{
		signals: make(map[domain.ConnectionID][]protocol.Signal),
		offline: make(map[domain.ConnectionID]bool),
	}
}

func (r *Recorder) Emit(conn domain.ConnectionID, s protocol.Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline[conn] {
		return false
	}
	r.signals[conn] = append(r.signals[conn], s)
	return true
}

// Disconnect makes later emits to conn fail.
func (r *Recorder) Disconnect(conn domain.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline[conn] = true
}

// Signals returns everything conn received so far.
func (r *Recorder) Signals(conn domain.ConnectionID) []protocol.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Signal(nil), r.signals[conn]...)
}

// Events returns the event names conn received, in order.
func (r *Recorder) Events(conn domain.ConnectionID) []string {
	signals := r.Signals(conn)
	events := make([]string, 0, len(signals))
	for _, s := range signals {
		events = append(events, s.Event)
	}
	return events
}

// Last returns the most recent signal sent to conn.
func (r *Recorder) Last(conn domain.ConnectionID) (protocol.Signal, bool) {
	signals := r.Signals(conn)
	if len(signals) == 0 {
		return protocol.Signal{}, false
	}
	return signals[len(signals)-1], true
}

// Reset forgets all recorded signals.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.signals)
}
