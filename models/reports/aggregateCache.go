package reports

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/finreport_backend/config"
	"github.com/mmdatafocus/finreport_backend/models"
	"github.com/shopspring/decimal"
)

// AggregateCache memoizes cumulative sums per (family, key, period, mode).
// A write to key at period P must be followed by InvalidateFrom(key, P).
type AggregateCache interface {
	Get(ctx context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode) (decimal.Decimal, bool, error)
	Set(ctx context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode, value decimal.Decimal) error
	InvalidateFrom(ctx context.Context, family string, keys []models.DimensionKey, from models.Period) error
}

// NewAggregateCache picks the cache for the configured backend. The Redis
// cache misses until ConnectRedisWithRetry has run.
func NewAggregateCache() AggregateCache {
	if !config.AggregateCacheEnabled() {
		return NoopAggregateCache{}
	}
	if config.LedgerBackend() == config.LedgerBackendMemory {
		return NewMemoryAggregateCache()
	}
	return NewRedisAggregateCache(config.AggregateCacheTTL())
}

type NoopAggregateCache struct{}

func (NoopAggregateCache) Get(context.Context, string, models.DimensionKey, models.Period, models.AggregateMode) (decimal.Decimal, bool, error) {
	return decimal.Zero, false, nil
}

func (NoopAggregateCache) Set(context.Context, string, models.DimensionKey, models.Period, models.AggregateMode, decimal.Decimal) error {
	return nil
}

func (NoopAggregateCache) InvalidateFrom(context.Context, string, []models.DimensionKey, models.Period) error {
	return nil
}

// RedisAggregateCache stores each sum under agg:<family>:<key>:<period>:<mode>
// and indexes the entries of one key in the set aggidx:<family>:<key>.
type RedisAggregateCache struct {
	ttl time.Duration
}

func NewRedisAggregateCache(ttl time.Duration) *RedisAggregateCache {
	return &RedisAggregateCache{ttl: ttl}
}

func aggregateIndexKey(family string, key models.DimensionKey) string {
	return fmt.Sprintf("aggidx:%s:%s", family, key.String())
}

func aggregateValueKey(family string, key models.DimensionKey, member string) string {
	return fmt.Sprintf("agg:%s:%s:%s", family, key.String(), member)
}

func aggregateMember(period models.Period, mode models.AggregateMode) string {
	return period.String() + ":" + string(mode)
}

func (c *RedisAggregateCache) Get(ctx context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode) (decimal.Decimal, bool, error) {
	var v decimal.Decimal
	ok, err := config.GetRedisObject(ctx, aggregateValueKey(family, key, aggregateMember(period, mode)), &v)
	if err != nil || !ok {
		return decimal.Zero, false, err
	}
	return v, true, nil
}

func (c *RedisAggregateCache) Set(ctx context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode, value decimal.Decimal) error {
	member := aggregateMember(period, mode)
	if err := config.SetRedisObject(ctx, aggregateValueKey(family, key, member), value, c.ttl); err != nil {
		return err
	}
	return config.AddRedisSet(ctx, aggregateIndexKey(family, key), member)
}

func (c *RedisAggregateCache) InvalidateFrom(ctx context.Context, family string, keys []models.DimensionKey, from models.Period) error {
	for _, key := range keys {
		idx := aggregateIndexKey(family, key)
		members, err := config.GetRedisSetMembers(ctx, idx)
		if err != nil {
			return err
		}
		var stale, staleKeys []string
		for _, m := range members {
			period, err := models.ParsePeriod(strings.SplitN(m, ":", 2)[0])
			if err != nil || !period.Before(from) {
				stale = append(stale, m)
				staleKeys = append(staleKeys, aggregateValueKey(family, key, m))
			}
		}
		if len(stale) == 0 {
			continue
		}
		if err := config.RemoveRedisKey(ctx, staleKeys...); err != nil {
			return err
		}
		if err := config.RemoveRedisSetMember(ctx, idx, stale...); err != nil {
			return err
		}
	}
	return nil
}

type memoryCacheEntry struct {
	family string
	key    models.DimensionKey
	period models.Period
	mode   models.AggregateMode
}

// MemoryAggregateCache is the in-process cache. Entries do not expire.
type MemoryAggregateCache struct {
	mu      sync.RWMutex
	entries map[memoryCacheEntry]decimal.Decimal
}

func NewMemoryAggregateCache() *MemoryAggregateCache {
	return &MemoryAggregateCache{entries: make(map[memoryCacheEntry]decimal.Decimal)}
}

func (c *MemoryAggregateCache) Get(_ context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode) (decimal.Decimal, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[memoryCacheEntry{family, key, period, mode}]
	return v, ok, nil
}

func (c *MemoryAggregateCache) Set(_ context.Context, family string, key models.DimensionKey, period models.Period, mode models.AggregateMode, value decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[memoryCacheEntry{family, key, period, mode}] = value
	return nil
}

func (c *MemoryAggregateCache) InvalidateFrom(_ context.Context, family string, keys []models.DimensionKey, from models.Period) error {
	want := make(map[models.DimensionKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := range c.entries {
		if e.family != family || e.period.Before(from) {
			continue
		}
		if _, ok := want[e.key]; ok {
			delete(c.entries, e)
		}
	}
	return nil
}

// Len is the number of memoized sums.
func (c *MemoryAggregateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
