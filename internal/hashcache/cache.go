// Package hashcache remembers indexed content hashes in a Redis set so repeat
// indexing runs can skip the vector store round trip.
package hashcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
	key string
}

// Connect opens a client for addr, which may be host:port or a redis:// URL.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// New returns a cache whose set is scoped to one collection. scope names the
// backing table (see vectorstore.Store.Identity) so hashes marked for a
// dropped or different table are never consulted.
func New(rdb *redis.Client, collection, scope string) *Cache {
	return &Cache{rdb: rdb, key: Key(collection, scope)}
}

// Key is the Redis set holding a collection's hashes.
func Key(collection, scope string) string {
	if scope == "" {
		return "recall:hashes:" + collection
	}
	return "recall:hashes:" + collection + ":" + scope
}

// Seen reports whether hash was marked before.
func (c *Cache) Seen(ctx context.Context, hash string) (bool, error) {
	ok, err := c.rdb.SIsMember(ctx, c.key, hash).Result()
	if err != nil {
		return false, fmt.Errorf("sismember: %w", err)
	}
	return ok, nil
}

// Mark records hashes as indexed.
func (c *Cache) Mark(ctx context.Context, hashes ...string) error {
	if len(hashes) == 0 {
		return nil
	}
	members := make([]any, len(hashes))
	for i, h := range hashes {
		members[i] = h
	}
	if err := c.rdb.SAdd(ctx, c.key, members...).Err(); err != nil {
		return fmt.Errorf("sadd: %w", err)
	}
	return nil
}

// Reset forgets every hash of the collection.
func (c *Cache) Reset(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
