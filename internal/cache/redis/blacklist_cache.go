package redis

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/snipebot/internal/domain"
	"github.com/redis/go-redis/v9"
)

const blacklistKey = "snipebot:blacklist"

// BlacklistCache implements domain.BlacklistCache as a Redis set shared by
// every trader process.
type BlacklistCache struct {
	rdb *redis.Client
}

// NewBlacklistCache creates a BlacklistCache backed by the given Client.
func NewBlacklistCache(c *Client) *BlacklistCache {
	return &BlacklistCache{rdb: c.Driver()}
}

// Add inserts address into the set.
func (bc *BlacklistCache) Add(ctx context.Context, address string) error {
	if err := bc.rdb.SAdd(ctx, blacklistKey, address).Err(); err != nil {
		return fmt.Errorf("redis: blacklist add %s: %w", address, err)
	}
	return nil
}

// Contains reports whether address is in the set.
func (bc *BlacklistCache) Contains(ctx context.Context, address string) (bool, error) {
	ok, err := bc.rdb.SIsMember(ctx, blacklistKey, address).Result()
	if err != nil {
		return false, fmt.Errorf("redis: blacklist lookup %s: %w", address, err)
	}
	return ok, nil
}

// Compile-time interface check.
var _ domain.BlacklistCache = (*BlacklistCache)(nil)
