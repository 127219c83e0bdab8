package identity

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is a Redis blacklist of access tokens revoked before expiry.
type Revocations struct {
	client *redis.Client
}

func NewRevocations(client *redis.Client) *Revocations {
	return &Revocations{client: client}
}

func revocationKey(token string) string {
	return "blacklist:access:" + token
}

// Revoke blacklists token for ttl, which should cover its remaining lifetime.
func (r *Revocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	return r.client.Set(ctx, revocationKey(token), "1", ttl).Err()
}

// IsRevoked returns true when the token exists in the Redis blacklist.
func (r *Revocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
