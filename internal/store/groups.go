package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

var errGroupExists = errors.New("group already exists")

// CreateGroup persists a new group and indexes each member.
func (s *Store) CreateGroup(ctx context.Context, g domain.Group) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		k := key("group", string(g.ID))
		if _, err := txn.Get(k); err == nil {
			return fmt.Errorf("%w: %s", errGroupExists, g.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, k, g); err != nil {
			return err
		}
		for _, member := range g.MemberIDs {
			if err := txn.Set(key("member", string(member), string(g.ID)), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetGroup loads a group, deleted or not. A missing group wraps domain.ErrNotFound.
func (s *Store) GetGroup(ctx context.Context, id domain.GroupID) (domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return domain.Group{}, err
	}
	var g domain.Group
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, key("group", string(id)), &g)
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Group{}, fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
	}
	return g, err
}

// UpdateGroup applies mutate to the stored group inside one transaction and
// keeps the membership index in step with the new member list. If mutate
// returns an error nothing is written and that error is returned as is.
func (s *Store) UpdateGroup(ctx context.Context, id domain.GroupID, mutate func(*domain.Group) error) (domain.Group, error) {
	var updated domain.Group
	err := s.update(ctx, func(txn *badger.Txn) error {
		k := key("group", string(id))
		var g domain.Group
		if err := getJSON(txn, k, &g); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("group %s: %w", id, domain.ErrNotFound)
			}
			return err
		}
		before := append([]domain.UserID(nil), g.MemberIDs...)
		if err := mutate(&g); err != nil {
			return err
		}
		if err := setJSON(txn, k, g); err != nil {
			return err
		}
		removed, added := lo.Difference(before, g.MemberIDs)
		for _, user := range removed {
			if err := txn.Delete(key("member", string(user), string(id))); err != nil {
				return err
			}
		}
		for _, user := range added {
			if err := txn.Set(key("member", string(user), string(id)), nil); err != nil {
				return err
			}
		}
		updated = g
		return nil
	})
	return updated, err
}

// GroupsForUser returns every non-deleted group user belongs to.
func (s *Store) GroupsForUser(ctx context.Context, user domain.UserID) ([]domain.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var groups []domain.Group
	err := s.db.View(func(txn *badger.Txn) error {
		p := prefix("member", string(user))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			ids = append(ids, string(it.Item().KeyCopy(nil)[len(p):]))
		}
		for _, escaped := range ids {
			var g domain.Group
			if err := getJSON(txn, append([]byte("group/"), escaped...), &g); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					s.log.Warn("Dangling membership index entry", "user_id", user, "group_key", escaped)
					continue
				}
				return err
			}
			if !g.IsDeleted() && g.HasMember(user) {
				groups = append(groups, g)
			}
		}
		return nil
	})
	return groups, err
}
