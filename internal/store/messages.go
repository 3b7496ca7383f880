package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

// SaveMessage persists m under its conversation. The timestamp segment is
// zero padded to 19 digits so that lexicographic order is chronological, and
// the message id breaks ties between messages of the same nanosecond.
func (s *Store) SaveMessage(ctx context.Context, m domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msgKey := key("msg", m.ConversationID(), fmt.Sprintf("%019d", m.CreatedAt.UnixNano()), string(m.ID))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := setJSON(txn, msgKey, m); err != nil {
			return err
		}
		return txn.Set(key("msgid", string(m.ID)), msgKey)
	})
}

// ListMessages returns the messages of a conversation newest first, skipping
// offset messages and returning at most limit.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []domain.Message{}, nil
	}
	messages := make([]domain.Message, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		p := prefix("msg", conversationID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(append(p, 0xFF)); it.ValidForPrefix(p); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(messages) == limit {
				break
			}
			var m domain.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return err
			}
			messages = append(messages, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// CountMessages returns how many of ids refer to persisted messages.
func (s *Store) CountMessages(ctx context.Context, ids []domain.MessageID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			_, err := txn.Get(key("msgid", string(id)))
			if err == nil {
				count++
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	return count, err
}
