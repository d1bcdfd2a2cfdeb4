package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

type Options struct {
	Prefix  string
	BaseTTL time.Duration
	// Jitter spreads expirations over [BaseTTL, BaseTTL+Jitter).
	Jitter time.Duration
	// Sliding renews the TTL on every read.
	Sliding bool
}

// GuestOptions is the primary store for guest carts: a sliding TTL and no jitter.
func GuestOptions(ttl time.Duration) Options {
	return Options{Prefix: "cart:guest", BaseTTL: ttl, Sliding: true}
}

// RegisteredCacheOptions is the read-through cache in front of MongoDB.
func RegisteredCacheOptions() Options {
	return Options{Prefix: "cart", BaseTTL: 15 * time.Minute, Jitter: 5 * time.Minute}
}

func NewRedisCache(client redis.Cmdable, opts Options) *RedisCache {
	if opts.Prefix == "" {
		opts.Prefix = "cart"
	}
	if opts.BaseTTL <= 0 {
		opts.BaseTTL = 15 * time.Minute
	}
	return &RedisCache{client: client, opts: opts}
}

type RedisCache struct {
	client redis.Cmdable
	opts   Options
}

func (r *RedisCache) Get(ctx context.Context, shopperID string) (*domain.Snapshot, error) {
	key := r.key(shopperID)

	var (
		data []byte
		err  error
	)
	if r.opts.Sliding {
		data, err = r.client.GetEx(ctx, key, r.opts.BaseTTL).Bytes()
	} else {
		data, err = r.client.Get(ctx, key).Bytes()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return &snap, nil
}

func (r *RedisCache) Set(ctx context.Context, snap *domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, r.key(snap.ShopperID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, shopperID string) error {
	if err := r.client.Del(ctx, r.key(shopperID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	if r.opts.Jitter <= 0 {
		return r.opts.BaseTTL
	}
	return r.opts.BaseTTL + time.Duration(rand.Int63n(int64(r.opts.Jitter)))
}

func (r *RedisCache) key(shopperID string) string {
	return fmt.Sprintf("%s:%s", r.opts.Prefix, shopperID)
}
