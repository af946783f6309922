package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"plantgate.org/internal/auth"
)

var _ Store = (*RedisStore)(nil)

var updateModeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'mode', ARGV[1])
return 1
`)

// RedisStore keeps sessions in Redis hashes that expire with the session, so
// a sweep has nothing to do.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "plantgate:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) userKey(id string) string    { return s.prefix + "session-user:" + id }

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	key := s.sessionKey(rec.ID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", rec.UserID,
		"mode", string(rec.Mode),
		"issued_at", strconv.FormatInt(rec.IssuedAt.UnixNano(), 10),
		"expires_at", strconv.FormatInt(rec.ExpiresAt.UnixNano(), 10),
	)
	pipe.PExpireAt(ctx, key, rec.ExpiresAt)
	pipe.SAdd(ctx, s.userKey(rec.UserID), rec.ID)
	pipe.PExpireAt(ctx, s.userKey(rec.UserID), rec.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	m, err := s.rdb.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: %w", err)
	}
	if len(m) == 0 {
		return Record{}, auth.ErrUnknownSession
	}
	issued, err := strconv.ParseInt(m["issued_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: issued_at: %w", err)
	}
	expires, err := strconv.ParseInt(m["expires_at"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("session: redis get: expires_at: %w", err)
	}
	return Record{
		ID:        id,
		UserID:    m["user_id"],
		Mode:      auth.Mode(m["mode"]),
		IssuedAt:  time.Unix(0, issued).UTC(),
		ExpiresAt: time.Unix(0, expires).UTC(),
	}, nil
}

func (s *RedisStore) UpdateMode(ctx context.Context, id string, mode auth.Mode) error {
	n, err := updateModeScript.Run(ctx, s.rdb, []string{s.sessionKey(id)}, string(mode)).Int()
	if err != nil {
		return fmt.Errorf("session: redis update mode: %w", err)
	}
	if n == 0 {
		return auth.ErrUnknownSession
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	userID, err := s.rdb.HGet(ctx, s.sessionKey(id), "user_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.sessionKey(id))
	pipe.SRem(ctx, s.userKey(userID), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis delete: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("session: redis delete user: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.sessionKey(id))
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("session: redis delete user: %w", err)
	}
	if err := s.rdb.Del(ctx, s.userKey(userID)).Err(); err != nil {
		return int(n), fmt.Errorf("session: redis delete user index: %w", err)
	}
	return int(n), nil
}

// DeleteExpired is a no-op: keys carry their own expiry.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping reports whether the backing Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
