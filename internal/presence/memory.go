package presence

import (
	"context"
	"slices"
	"sync"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/samber/lo"
)

// Memory is a process-local Registry.
type Memory struct {
	mu      sync.RWMutex
	entries map[domain.UserID]domain.ConnectionID
}

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{entries: make(map[domain.UserID]domain.ConnectionID)}
}

// Register points user at conn, replacing any earlier connection.
func (m *Memory) Register(_ context.Context, user domain.UserID, conn domain.ConnectionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[user] = conn
	return nil
}

// Lookup returns the live connection of user, if any.
func (m *Memory) Lookup(_ context.Context, user domain.UserID) (domain.ConnectionID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.entries[user]
	return conn, ok, nil
}

// Remove deletes the entry of user only while it still points at expected.
func (m *Memory) Remove(_ context.Context, user domain.UserID, expected domain.ConnectionID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[user]; !ok || current != expected {
		return false, nil
	}
	delete(m.entries, user)
	return true, nil
}

// ListOnline returns every present user when candidates is nil, otherwise
// the present subset of candidates.
func (m *Memory) ListOnline(_ context.Context, candidates []domain.UserID) ([]domain.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if candidates == nil {
		online := lo.Keys(m.entries)
		slices.Sort(online)
		return online, nil
	}
	return lo.Filter(lo.Uniq(candidates), func(id domain.UserID, _ int) bool {
		_, ok := m.entries[id]
		return ok
	}), nil
}
