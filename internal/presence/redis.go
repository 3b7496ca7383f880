package presence

import (
	"context"
	"errors"
	"slices"

	"github.com/Tyrowin/gochat-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// removeIfCurrent deletes the user's entry and drops the user from the online
// set, but only while the entry still holds the expected connection id.
var removeIfCurrent = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("SREM", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Redis is a Registry shared by every gateway instance pointing at the same
// Redis database. Entries live under "<prefix>user:<id>" and the set of
// present users under "<prefix>online".
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis returns a registry whose keys start with prefix, "presence:" when empty.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "presence:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) userKey(user domain.UserID) string {
	return r.prefix + "user:" + string(user)
}

func (r *Redis) onlineKey() string {
	return r.prefix + "online"
}

// Register points user at conn, replacing any earlier connection.
func (r *Redis) Register(ctx context.Context, user domain.UserID, conn domain.ConnectionID) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.userKey(user), string(conn), 0)
		pipe.SAdd(ctx, r.onlineKey(), string(user))
		return nil
	})
	return err
}

// Lookup returns the live connection of user, if any.
func (r *Redis) Lookup(ctx context.Context, user domain.UserID) (domain.ConnectionID, bool, error) {
	conn, err := r.client.Get(ctx, r.userKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.ConnectionID(conn), true, nil
}

// Remove deletes the entry of user only while it still points at expected.
func (r *Redis) Remove(ctx context.Context, user domain.UserID, expected domain.ConnectionID) (bool, error) {
	removed, err := removeIfCurrent.Run(ctx, r.client,
		[]string{r.userKey(user), r.onlineKey()},
		string(expected), string(user),
	).Int()
	if err != nil {
		return false, err
	}
	return removed == 1, nil
}

// ListOnline returns every present user when candidates is nil, otherwise
// the present subset of candidates.
func (r *Redis) ListOnline(ctx context.Context, candidates []domain.UserID) ([]domain.UserID, error) {
	if candidates == nil {
		members, err := r.client.SMembers(ctx, r.onlineKey()).Result()
		if err != nil {
			return nil, err
		}
		online := lo.Map(members, func(m string, _ int) domain.UserID { return domain.UserID(m) })
		slices.Sort(online)
		return online, nil
	}
	candidates = lo.Uniq(candidates)
	if len(candidates) == 0 {
		return []domain.UserID{}, nil
	}
	members := lo.Map(candidates, func(id domain.UserID, _ int) any { return string(id) })
	present, err := r.client.SMIsMember(ctx, r.onlineKey(), members...).Result()
	if err != nil {
		return nil, err
	}
	online := make([]domain.UserID, 0, len(candidates))
	for i, ok := range present {
		if ok {
			online = append(online, candidates[i])
		}
	}
	return online, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
