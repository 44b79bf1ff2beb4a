package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper claims a key in Redis for a limited time so only one worker acts on it.
type Deduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (d *Deduper) key(id string) string {
	return "dedup:" + d.prefix + ":" + id
}

// Acquire returns true if the caller now holds id, false if another worker does.
func (d *Deduper) Acquire(ctx context.Context, id string) bool {
	key := d.key(id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理，返回 true
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped claimed key",
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}
	return ok
}

// Release drops the claim on id before its TTL runs out.
func (d *Deduper) Release(ctx context.Context, id string) {
	if err := d.rdb.Del(ctx, d.key(id)).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
