package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sehwan505/uos-ticket-reservation/internal/config"
)

// SeatLister loads the active seat ids of a screening from the source of
// truth.
type SeatLister func(ctx context.Context, screeningID string) ([]uint64, error)

// AvailabilityCache fronts seat availability reads with Redis.  Concurrent
// misses for the same screening share a single load.  Every transition
// invalidates the entry, so a cached list is at most TTL stale only when
// an invalidation itself failed.  A nil client disables caching.
type AvailabilityCache struct {
	rdb   *redis.Client
	cfg   config.CacheConfig
	load  SeatLister
	group singleflight.Group
	log   *zap.Logger
}

// NewAvailabilityCache wraps load with a Redis cache.
func NewAvailabilityCache(rdb *redis.Client, cfg config.CacheConfig, load SeatLister, log *zap.Logger) *AvailabilityCache {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		rdb = nil
	}
	return &AvailabilityCache{rdb: rdb, cfg: cfg, load: load, log: log}
}

func (c *AvailabilityCache) key(screeningID string) string {
	return fmt.Sprintf("%s:%s", c.cfg.Prefix, screeningID)
}

// ActiveSeatIDs returns the held or sold seats of a screening.
func (c *AvailabilityCache) ActiveSeatIDs(ctx context.Context, screeningID string) ([]uint64, error) {
	if c.rdb == nil {
		return c.load(ctx, screeningID)
	}
	key := c.key(screeningID)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var ids []uint64
		if json.Unmarshal(raw, &ids) == nil {
			return ids, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("availability cache read failed", zap.String("key", key), zap.Error(err))
	}

	// Callers share one load, so it must not die with the first caller.
	lctx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		ids, err := c.load(lctx, screeningID)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = []uint64{}
		}
		if raw, err := json.Marshal(ids); err == nil {
			if err := c.rdb.Set(lctx, key, raw, c.cfg.TTL).Err(); err != nil {
				c.log.Warn("availability cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]uint64), nil
}

// Invalidate drops the cached list of a screening.
func (c *AvailabilityCache) Invalidate(ctx context.Context, screeningID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.key(screeningID)).Err(); err != nil {
		c.log.Warn("availability cache invalidate failed", zap.String("screening_id", screeningID), zap.Error(err))
	}
}
