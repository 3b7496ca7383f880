// Package store persists messages, groups and the user directory in BadgerDB.
//
// Keys are path-like and every variable segment is escaped so that ids may
// contain any character:
//
//	user/{userID}                         -> User
//	group/{groupID}                       -> domain.Group
//	member/{userID}/{groupID}             -> membership index (empty value)
//	msg/{conversationID}/{ts19}/{msgID}   -> domain.Message
//	msgid/{msgID}                         -> key of the message record
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const maxConflictRetries = 5

// Store is safe for concurrent use.
type Store struct {
	db    *badger.DB
	log   *slog.Logger
	known *lru.Cache[domain.UserID, struct{}]
	clock clock.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for directory timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Open opens (or creates) a Badger database at path.
func Open(path string, log *slog.Logger, userCacheSize int, opts ...Option) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	s, err := New(db, log, userCacheSize, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The caller keeps ownership of db
// unless it calls Close on the returned Store.
func New(db *badger.DB, log *slog.Logger, userCacheSize int, opts ...Option) (*Store, error) {
	if userCacheSize <= 0 {
		userCacheSize = 1024
	}
	known, err := lru.New[domain.UserID, struct{}](userCacheSize)
	if err != nil {
		return nil, fmt.Errorf("user cache: %w", err)
	}
	s := &Store{db: db, log: log, known: known, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func segment(v string) string {
	return url.PathEscape(v)
}

func key(parts ...string) []byte {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = segment(p)
	}
	return []byte(strings.Join(escaped, "/"))
}

func prefix(parts ...string) []byte {
	return append(key(parts...), '/')
}

func getJSON(txn *badger.Txn, k []byte, v any) error {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", k, err)
	}
	return txn.Set(k, data)
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Badger transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}
