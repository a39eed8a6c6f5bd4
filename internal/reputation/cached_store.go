package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbd888/payguard/internal/syncutil"
)

// DefaultCacheTTL is how long a cached record (or a cached miss) lives.
const DefaultCacheTTL = 5 * time.Minute

const cacheKeyPrefix = "payguard:reputation:"

// missMarker is cached for receivers with no record so clean receivers do
// not reach the database on every screening.
var missMarker = []byte("null")

// CachedStore is a read-through Redis cache in front of another Store.
// Writes go to the inner store and then refresh the cache entry. Redis
// failures are logged and bypassed. Fills and writes for one receiver are
// serialized so an older record never overwrites a newer one in the cache.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	locks  *syncutil.KeyedMutex
	logger *slog.Logger
}

// NewCachedStore wraps inner with a Redis cache.
func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		locks:  syncutil.NewKeyedMutex(syncutil.DefaultShards),
		logger: logger,
	}
}

func cacheKey(receiverID string) string {
	return cacheKeyPrefix + Normalize(receiverID)
}

func (c *CachedStore) Get(ctx context.Context, receiverID string) (*Record, error) {
	key := cacheKey(receiverID)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		rec, derr := decodeCached(data)
		if derr == nil {
			cacheRequests.WithLabelValues("hit").Inc()
			if rec == nil {
				return nil, ErrNotFound
			}
			return rec, nil
		}
		c.logger.Warn("reputation cache entry unreadable", "key", key, "error", derr)
	case errors.Is(err, redis.Nil):
		cacheRequests.WithLabelValues("miss").Inc()
	default:
		cacheRequests.WithLabelValues("error").Inc()
		c.logger.Warn("reputation cache read failed", "key", key, "error", err)
	}

	unlock, err := c.locks.Lock(ctx, Normalize(receiverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := c.inner.Get(ctx, receiverID)
	switch {
	case errors.Is(err, ErrNotFound):
		c.set(ctx, key, missMarker)
		return nil, err
	case err != nil:
		return nil, err
	}
	c.store(ctx, rec)
	return rec, nil
}

func (c *CachedStore) Report(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	unlock, err := c.locks.Lock(ctx, Normalize(receiverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := c.inner.Report(ctx, receiverID, reason, at)
	if err != nil {
		return nil, err
	}
	c.store(ctx, rec)
	return rec, nil
}

func (c *CachedStore) Flag(ctx context.Context, receiverID, reason string, at time.Time) (*Record, error) {
	unlock, err := c.locks.Lock(ctx, Normalize(receiverID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := c.inner.Flag(ctx, receiverID, reason, at)
	if err != nil {
		return nil, err
	}
	c.store(ctx, rec)
	return rec, nil
}

// ListTop is not cached.
func (c *CachedStore) ListTop(ctx context.Context, limit int) ([]*Record, error) {
	return c.inner.ListTop(ctx, limit)
}

// Prime writes records into the cache. A record is skipped when a newer
// write for the same receiver has already been cached.
func (c *CachedStore) Prime(ctx context.Context, recs []*Record) {
	for _, rec := range recs {
		unlock, err := c.locks.Lock(ctx, rec.ReceiverID)
		if err != nil {
			return
		}
		if cur, ok := c.cached(ctx, rec.ReceiverID); !ok || cur == nil || !cur.LastReported.After(rec.LastReported) {
			c.store(ctx, rec)
		}
		unlock()
	}
}

// cached returns the cached record without touching the inner store.
func (c *CachedStore) cached(ctx context.Context, receiverID string) (*Record, bool) {
	data, err := c.client.Get(ctx, cacheKey(receiverID)).Bytes()
	if err != nil {
		return nil, false
	}
	rec, err := decodeCached(data)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// Ping checks the Redis connection.
func (c *CachedStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *CachedStore) store(ctx context.Context, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("reputation cache encode failed", "receiver", rec.ReceiverID, "error", err)
		return
	}
	c.set(ctx, cacheKey(rec.ReceiverID), data)
}

func (c *CachedStore) set(ctx context.Context, key string, data []byte) {
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		// A stale entry would hide the write until it expires.
		_ = c.client.Del(ctx, key).Err()
		cacheRequests.WithLabelValues("error").Inc()
		c.logger.Warn("reputation cache write failed", "key", key, "error", err)
	}
}

func decodeCached(data []byte) (*Record, error) {
	var rec *Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
