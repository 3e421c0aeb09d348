package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CodeCacheInterface caches token lookups on the resolution path. Only
// immutable variants (static_url, file) and negative results are cached:
// dynamic codes must always re-read live state so a destination or is_active
// change is visible to the very next scan.
type CodeCacheInterface interface {
	Get(ctx context.Context, token string) (*CachedCode, error)
	Set(ctx context.Context, token string, code *CachedCode, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

type CodeCache struct {
	client *redis.Client
}

// CachedCode is the cache entry for a public token. Found=false entries
// record that the token does not exist.
type CachedCode struct {
	Found       bool       `json:"found"`
	ID          uuid.UUID  `json:"id,omitempty"`
	Variant     string     `json:"variant,omitempty"`
	Destination string     `json:"destination,omitempty"`
	BlobID      *uuid.UUID `json:"blob_id,omitempty"`
}

func NewCodeCache(client *redis.Client) *CodeCache {
	return &CodeCache{client: client}
}

func (c *CodeCache) Get(ctx context.Context, token string) (*CachedCode, error) {
	key := "code:" + token
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cached CachedCode
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		return nil, err
	}

	return &cached, nil
}

func (c *CodeCache) Set(ctx context.Context, token string, code *CachedCode, ttl time.Duration) error {
	key := "code:" + token
	data, err := json.Marshal(code)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *CodeCache) Delete(ctx context.Context, token string) error {
	key := "code:" + token
	return c.client.Del(ctx, key).Err()
}
