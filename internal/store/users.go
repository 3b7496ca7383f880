package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

// User is a directory record. Users are never removed by the gateway.
type User struct {
	domain.Identity
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpsertUser records id in the directory, keeping the original creation time.
func (s *Store) UpsertUser(ctx context.Context, id domain.Identity) error {
	if id.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	now := s.clock.Now().UTC()
	err := s.update(ctx, func(txn *badger.Txn) error {
		k := key("user", string(id.ID))
		var existing User
		err := getJSON(txn, k, &existing)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			existing = User{CreatedAt: now}
		case err != nil:
			return err
		}
		existing.Identity = id
		existing.UpdatedAt = now
		return setJSON(txn, k, existing)
	})
	if err != nil {
		return err
	}
	s.known.Add(id.ID, struct{}{})
	return nil
}

// GetUser loads a directory record. A missing user wraps domain.ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id domain.UserID) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	var u User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key("user", string(id)), &u)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return u, err
}

// MissingUsers returns the ids that have no directory record, in input order.
// Known ids are served from the LRU cache.
func (s *Store) MissingUsers(ctx context.Context, ids []domain.UserID) ([]domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var unknown []domain.UserID
	for _, id := range ids {
		if !s.known.Contains(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) == 0 {
		return nil, nil
	}
	var missing []domain.UserID
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range unknown {
			_, err := txn.Get(key("user", string(id)))
			switch {
			case err == nil:
				s.known.Add(id, struct{}{})
			case errors.Is(err, badger.ErrKeyNotFound):
				missing = append(missing, id)
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}
