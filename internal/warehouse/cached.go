package warehouse

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "mind:query:version"
	cacheKeyPrefix  = "mind:query"
)

// DefaultCacheTTL is the freshness window of cached results.
const DefaultCacheTTL = time.Hour

// Cached is a read-through Redis cache in front of an executor. Identical
// concurrent loads are collapsed into one warehouse call. Redis failures
// degrade to uncached execution.
type Cached struct {
	next   Executor
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewCached wraps next. A nil client disables caching.
func NewCached(next Executor, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cached{next: next, client: client, ttl: ttl, logger: logger}
}

// Run implements Executor.
func (c *Cached) Run(ctx context.Context, q Query) (Result, error) {
	if c.client == nil {
		return c.next.Run(ctx, q)
	}
	key, err := c.Key(ctx, q)
	if err != nil {
		c.logger.WarnContext(ctx, "query cache unavailable", slog.String("query", q.Name), slog.Any("error", err))
		return c.next.Run(ctx, q)
	}
	if res, ok := c.lookup(ctx, key); ok {
		return res, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.next.Run(ctx, q)
		if err != nil {
			return Result{}, err
		}
		c.store(ctx, key, res)
		return res, nil
	})
	if err != nil {
		// The shared load may have been cancelled by another caller.
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return c.next.Run(ctx, q)
		}
		return Result{}, err
	}
	return v.(Result), nil
}

// Key derives the versioned cache key of q.
func (c *Cached) Key(ctx context.Context, q Query) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	digest, err := Fingerprint(q)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d:%s", cacheKeyPrefix, ver, digest), nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cached) Version(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// Bump invalidates every cached result by incrementing the version. Entries
// under older versions expire with their TTL.
func (c *Cached) Bump(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Close closes the wrapped executor.
func (c *Cached) Close() error {
	return Close(c.next)
}

func (c *Cached) lookup(ctx context.Context, key string) (Result, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WarnContext(ctx, "query cache read failed", slog.Any("error", err))
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		c.logger.WarnContext(ctx, "query cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return Result{}, false
	}
	return res, true
}

func (c *Cached) store(ctx context.Context, key string, res Result) {
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.WarnContext(ctx, "query cache encode failed", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "query cache write failed", slog.Any("error", err))
	}
}

// Fingerprint hashes the query text and its bound parameters.
func Fingerprint(q Query) (string, error) {
	h := blake3.New()
	if _, err := h.Write([]byte(q.SQL)); err != nil {
		return "", err
	}
	params, err := json.Marshal(q.Params)
	if err != nil {
		return "", err
	}
	_, _ = h.Write([]byte{0})
	if _, err := h.Write(params); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
