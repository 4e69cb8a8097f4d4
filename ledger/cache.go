package ledger

import (
	"context"
	"time"

	"github.com/go-redis/redis/v7"
	extErrors "github.com/pkg/errors"
)

// SeenCache remembers processed event ids in front of the ledger. A miss always
// falls through to the ledger, so losing the cache never causes reprocessing.
type SeenCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

const seenPrefix = "webhook:seen:"

var _ SeenCache = &RedisSeenCache{}

// RedisSeenCache keeps processed event ids in Redis with a TTL. The v7 client
// carries no per-call context, so ctx is not propagated.
type RedisSeenCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisSeenCache(client redis.UniversalClient, ttl time.Duration) (*RedisSeenCache, error) {
	if client == nil {
		return nil, extErrors.New("nil Redis is invalid")
	}
	return &RedisSeenCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *RedisSeenCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(seenPrefix + eventID).Result()
	if err != nil {
		return false, extErrors.Wrap(err, "Cannot query seen cache")
	}
	return n > 0, nil
}

func (c *RedisSeenCache) Remember(ctx context.Context, eventID string) error {
	if err := c.client.Set(seenPrefix+eventID, 1, c.ttl).Err(); err != nil {
		return extErrors.Wrap(err, "Cannot write seen cache")
	}
	return nil
}
