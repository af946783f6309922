package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"plantgate.org/internal/auth"
)

// recordScript opens an entry or refreshes the timestamp of a pending one.
// A consumed entry is left untouched.
var recordScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  redis.call('HSET', key, 'object_id', ARGV[1], 'kind', ARGV[2], 'requester', ARGV[3], 'created_at', ARGV[4])
elseif redis.call('HEXISTS', key, 'consumed_at') == 0 then
  redis.call('HSET', key, 'created_at', ARGV[4])
end
return redis.call('HGETALL', key)
`)

// consumeScript is the compare-and-consume step. The first element of the
// reply is a status: 0 missing or consumed, 1 self authorization, 2 consumed now.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 or redis.call('HEXISTS', key, 'consumed_at') == 1 then
  return {0}
end
if redis.call('HGET', key, 'requester') == ARGV[1] then
  local out = redis.call('HGETALL', key)
  table.insert(out, 1, 1)
  return out
end
redis.call('HSET', key, 'consumed_at', ARGV[2], 'consumed_by', ARGV[1])
local out = redis.call('HGETALL', key)
table.insert(out, 1, 2)
return out
`)

const (
	consumeMissing = 0
	consumeSelf    = 1
	consumeOK      = 2
)

// Redis implements Ledger on a shared Redis so every instance of the service
// sees the same entries. Atomicity comes from running each step as a script.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a Redis ledger.
type RedisOption func(*Redis)

// WithKeyPrefix namespaces ledger keys. The default is "plantgate:sod:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisClock overrides the time source.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *Redis) { r.now = now }
}

func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{rdb: rdb, prefix: "plantgate:sod:", now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(objectID, kind string) string {
	return r.prefix + kind + ":" + objectID
}

func (r *Redis) RecordRequest(ctx context.Context, objectID, kind, requesterID string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	if requesterID, err = requireUser(requesterID); err != nil {
		return Entry{}, err
	}
	now := strconv.FormatInt(r.now().UTC().UnixNano(), 10)
	res, err := recordScript.Run(ctx, r.rdb, []string{r.key(objectID, kind)}, objectID, kind, requesterID, now).StringSlice()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: record request: %w", err)
	}
	e, err := parseEntry(res)
	if err != nil {
		return Entry{}, err
	}
	if e.Consumed() {
		return e, auth.ErrNoSuchRequest
	}
	return e, nil
}

func (r *Redis) CheckAndConsume(ctx context.Context, objectID, kind, authorizerID string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	if authorizerID, err = requireUser(authorizerID); err != nil {
		return Entry{}, err
	}
	now := strconv.FormatInt(r.now().UTC().UnixNano(), 10)
	res, err := consumeScript.Run(ctx, r.rdb, []string{r.key(objectID, kind)}, authorizerID, now).Slice()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: consume: %w", err)
	}
	if len(res) == 0 {
		return Entry{}, errors.New("ledger: consume: empty script reply")
	}
	status, ok := res[0].(int64)
	if !ok {
		return Entry{}, fmt.Errorf("ledger: consume: unexpected status %T", res[0])
	}
	if status == consumeMissing {
		return Entry{}, auth.ErrNoSuchRequest
	}
	fields := make([]string, 0, len(res)-1)
	for _, v := range res[1:] {
		s, ok := v.(string)
		if !ok {
			return Entry{}, fmt.Errorf("ledger: consume: unexpected field %T", v)
		}
		fields = append(fields, s)
	}
	e, err := parseEntry(fields)
	if err != nil {
		return Entry{}, err
	}
	if status == consumeSelf {
		return e, auth.ErrSelfAuthorization
	}
	return e, nil
}

func (r *Redis) Lookup(ctx context.Context, objectID, kind string) (Entry, error) {
	objectID, kind, err := normalizeKey(objectID, kind)
	if err != nil {
		return Entry{}, err
	}
	m, err := r.rdb.HGetAll(ctx, r.key(objectID, kind)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: lookup: %w", err)
	}
	if len(m) == 0 {
		return Entry{}, auth.ErrNoSuchRequest
	}
	return entryFromMap(m)
}

// Ping reports whether the backing Redis answers.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func parseEntry(flat []string) (Entry, error) {
	if len(flat)%2 != 0 {
		return Entry{}, errors.New("ledger: malformed entry reply")
	}
	m := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return entryFromMap(m)
}

func entryFromMap(m map[string]string) (Entry, error) {
	created, err := parseNanos(m["created_at"])
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ObjectID:    m["object_id"],
		Kind:        m["kind"],
		RequesterID: m["requester"],
		CreatedAt:   created,
		ConsumedBy:  m["consumed_by"],
	}
	if v, ok := m["consumed_at"]; ok {
		at, err := parseNanos(v)
		if err != nil {
			return Entry{}, err
		}
		e.ConsumedAt = &at
	}
	return e, nil
}

func parseNanos(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("ledger: bad timestamp %q: %w", s, err)
	}
	return time.Unix(0, n).UTC(), nil
}
