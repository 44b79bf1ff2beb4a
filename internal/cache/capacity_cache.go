package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/interval"
)

const keyPrefix = "capacity"

// CapacityCache is a read-through Redis cache in front of a CapacityLookup.
// Redis failures fall back to the source.
type CapacityCache struct {
	source engine.CapacityLookup
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCapacityCache(source engine.CapacityLookup, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *CapacityCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CapacityCache{
		source: source,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func rangeKey(employeeID string, start, end time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, employeeID, interval.FormatDate(start), interval.FormatDate(end))
}

// indexKey lists every cached range of one employee so they can be dropped together.
func indexKey(employeeID string) string {
	return fmt.Sprintf("%s:idx:%s", keyPrefix, employeeID)
}

func (c *CapacityCache) FindDailyCapacityOverride(ctx context.Context, employeeID string, day time.Time) (float64, bool, error) {
	overrides, err := c.FindDailyCapacityOverrides(ctx, employeeID, day, day)
	if err != nil {
		return 0, false, err
	}
	v, ok := overrides[interval.Day(day)]
	return v, ok, nil
}

func (c *CapacityCache) FindDailyCapacityOverrides(ctx context.Context, employeeID string, start, end time.Time) (map[time.Time]float64, error) {
	key := rangeKey(employeeID, start, end)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if out, decErr := decode(raw); decErr == nil {
			return out, nil
		}
		c.logger.Warn("Dropping undecodable capacity cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Capacity cache read failed, using source", zap.String("key", key), zap.Error(err))
	}

	overrides, err := c.source.FindDailyCapacityOverrides(ctx, employeeID, start, end)
	if err != nil {
		return nil, err
	}

	if encoded, encErr := encode(overrides); encErr == nil {
		pipe := c.rdb.TxPipeline()
		pipe.Set(ctx, key, encoded, c.ttl)
		pipe.SAdd(ctx, indexKey(employeeID), key)
		pipe.Expire(ctx, indexKey(employeeID), c.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.Warn("Capacity cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return overrides, nil
}

// Invalidate drops every cached range of the employee.
func (c *CapacityCache) Invalidate(ctx context.Context, employeeID string) error {
	idx := indexKey(employeeID)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list cached ranges of %s: %w", employeeID, err)
	}
	keys = append(keys, idx)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate capacity cache of %s: %w", employeeID, err)
	}
	c.logger.Debug("Capacity cache invalidated", zap.String("employee_id", employeeID), zap.Int("keys", len(keys)))
	return nil
}

// SetDailyCapacity writes through to the source and invalidates the employee's entries.
func (c *CapacityCache) SetDailyCapacity(ctx context.Context, employeeID string, day time.Time, hours float64) error {
	w, ok := c.source.(engine.CapacityWriter)
	if !ok {
		return engine.ErrCapacityReadOnly
	}
	if err := w.SetDailyCapacity(ctx, employeeID, day, hours); err != nil {
		return err
	}
	if err := c.Invalidate(ctx, employeeID); err != nil {
		// 过期后自动恢复
		c.logger.Warn("Capacity cache invalidation failed", zap.Error(err))
	}
	return nil
}

func encode(overrides map[time.Time]float64) ([]byte, error) {
	m := make(map[string]float64, len(overrides))
	for d, v := range overrides {
		m[interval.FormatDate(d)] = v
	}
	return json.Marshal(m)
}

func decode(raw []byte) (map[time.Time]float64, error) {
	var m map[string]float64
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	out := make(map[time.Time]float64, len(m))
	for s, v := range m {
		d, err := interval.ParseDate(s)
		if err != nil {
			return nil, err
		}
		out[d] = v
	}
	return out, nil
}

var (
	_ engine.CapacityLookup = (*CapacityCache)(nil)
	_ engine.CapacityWriter = (*CapacityCache)(nil)
)
