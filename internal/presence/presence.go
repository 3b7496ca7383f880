// Package presence answers "is this user reachable right now, and on which
// connection". A user has at most one live entry: registering again
// overwrites the previous connection.
package presence

import (
	"context"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
)

// Registry is the presence contract shared by the in-process and the Redis
// backed implementations.
type Registry interface {
	// Register upserts the entry for user, replacing any prior connection.
	Register(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error
	// Lookup returns the live connection of user, if any.
	Lookup(ctx context.Context, user domain.UserID) (domain.ConnectionID, bool, error)
	// Remove deletes the entry only while it still points at expected.
	Remove(ctx context.Context, user domain.UserID, expected domain.ConnectionID) (bool, error)
	// ListOnline returns the subset of candidates that are present, or every
	// present user when candidates is nil.
	ListOnline(ctx context.Context, candidates []domain.UserID) ([]domain.UserID, error)
}
