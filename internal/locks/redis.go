package locks

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/piratebomber/cirkel.io/backend/go-services/internal/document"
	"github.com/redis/go-redis/v9"
)

// acquireScript grants the lock when the key is absent. Redis drops the key
// when its TTL elapses, which is how expired locks become absent.
var acquireScript = redis.NewScript(`
local holder = redis.call('HGET', KEYS[1], 'holder')
if holder then
  if holder == ARGV[1] then
    return 1
  end
  return 0
end
redis.call('HSET', KEYS[1], 'holder', ARGV[1])
redis.call('HSET', KEYS[1], 'acquiredAt', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'holder') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisManager keeps locks in Redis so every service instance sees the same
// holder. Locks are stored as hashes under "<prefix>lock:<documentID>".
type RedisManager struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisManager creates a Redis-backed lock manager. Prefix may be empty.
func NewRedisManager(client *redis.Client, prefix string, timeout time.Duration) *RedisManager {
	if prefix == "" {
		prefix = "collab:"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisManager{client: client, prefix: prefix, timeout: timeout}
}

func (r *RedisManager) key(documentID string) string {
	return r.prefix + "lock:" + documentID
}

func (r *RedisManager) Acquire(ctx context.Context, documentID, userID string) (bool, error) {
	now := time.Now().UTC()
	res, err := acquireScript.Run(ctx, r.client, []string{r.key(documentID)},
		userID, now.UnixNano(), r.timeout.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire lock on %s: %w", documentID, err)
	}
	return res == 1, nil
}

func (r *RedisManager) Release(ctx context.Context, documentID, userID string) (bool, error) {
	res, err := releaseScript.Run(ctx, r.client, []string{r.key(documentID)}, userID).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock on %s: %w", documentID, err)
	}
	return res == 1, nil
}

func (r *RedisManager) Holder(ctx context.Context, documentID string) (*document.Lock, error) {
	fields, err := r.client.HGetAll(ctx, r.key(documentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lock on %s: %w", documentID, err)
	}
	holder, ok := fields["holder"]
	if !ok {
		return nil, nil
	}
	nanos, err := strconv.ParseInt(fields["acquiredAt"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("read lock on %s: bad acquiredAt: %w", documentID, err)
	}
	acquired := time.Unix(0, nanos).UTC()
	return &document.Lock{
		DocumentID: documentID,
		HolderID:   holder,
		AcquiredAt: acquired,
		ExpiresAt:  acquired.Add(r.timeout),
	}, nil
}
