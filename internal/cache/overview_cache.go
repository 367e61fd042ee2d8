package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sleepdebt/internal/query"

	"go.uber.org/zap"
)

const overviewKeyPrefix = "sleepdebt:overview"

// OverviewCache caches the headline overview per window until the next write or
// until the sleep day rolls over.
type OverviewCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

type cachedOverview struct {
	DayID    string          `json:"day_id"`
	Overview *query.Overview `json:"overview"`
}

func NewOverviewCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *OverviewCache {
	return &OverviewCache{kv: kv, ttl: ttl, logger: logger}
}

func overviewKey(windowDays int) string {
	return fmt.Sprintf("%s:%d", overviewKeyPrefix, windowDays)
}

// Get returns ErrCacheMiss when nothing is cached for windowDays or the cached
// value belongs to another sleep day.
func (c *OverviewCache) Get(ctx context.Context, windowDays int, dayID string) (*query.Overview, error) {
	raw, err := c.kv.Get(ctx, overviewKey(windowDays))
	if err != nil {
		return nil, err
	}
	var cached cachedOverview
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		c.logger.Warn("Discarding undecodable overview cache entry", zap.Error(err))
		return nil, ErrCacheMiss
	}
	if cached.DayID != dayID || cached.Overview == nil {
		return nil, ErrCacheMiss
	}
	return cached.Overview, nil
}

func (c *OverviewCache) Set(ctx context.Context, windowDays int, overview *query.Overview) error {
	data, err := json.Marshal(cachedOverview{DayID: overview.Today.DayID, Overview: overview})
	if err != nil {
		return fmt.Errorf("failed to marshal overview: %w", err)
	}
	if err := c.kv.Set(ctx, overviewKey(windowDays), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	c.logger.Debug("Updated overview cache", zap.Int("window_days", windowDays))
	return nil
}

// Invalidate drops the cached overviews of the given windows.
func (c *OverviewCache) Invalidate(ctx context.Context, windows ...int) error {
	if len(windows) == 0 {
		return nil
	}
	keys := make([]string, 0, len(windows))
	for _, w := range windows {
		keys = append(keys, overviewKey(w))
	}
	if err := c.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate overview cache: %w", err)
	}
	return nil
}
