package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commonredis "sleepdebt/common/redis"
	"sleepdebt/internal/query"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestOverviewCache_RoundTripAndDayRollover(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	c := NewOverviewCache(NewRedisKVStore(client), time.Minute, zap.NewNop())

	_, err := c.Get(ctx, 14, "2024-05-20@anchor4")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ov := &query.Overview{DebtMinutes: 200, Band: query.BandModerate, WindowDays: 14,
		Today: query.Today{DayID: "2024-05-20@anchor4", HasData: true}}
	require.NoError(t, c.Set(ctx, 14, ov))

	got, err := c.Get(ctx, 14, "2024-05-20@anchor4")
	require.NoError(t, err)
	assert.Equal(t, 200, got.DebtMinutes)
	assert.Equal(t, query.BandModerate, got.Band)

	_, err = c.Get(ctx, 14, "2024-05-21@anchor4")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOverviewCache_InvalidateAndTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	c := NewOverviewCache(NewRedisKVStore(client), time.Minute, zap.NewNop())

	ov := &query.Overview{Today: query.Today{DayID: "d"}}
	require.NoError(t, c.Set(ctx, 7, ov))
	require.NoError(t, c.Invalidate(ctx, 7))
	_, err := c.Get(ctx, 7, "d")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, 7, ov))
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, 7, "d")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOverviewCache_CorruptEntryIsMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(overviewKey(14), "{not json"))

	c := NewOverviewCache(NewRedisKVStore(client), time.Minute, zap.NewNop())
	_, err := c.Get(context.Background(), 14, "d")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestStreamPublisher_Publish(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	p := NewStreamPublisher(client, "sleepdebt:events", 100, zap.NewNop())

	at := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(ctx, ChangeEvent{Kind: EventRefresh, DirtyDays: []string{"2024-05-20@anchor4"}, Written: 1, At: at}))

	msgs, err := commonredis.ReadLatest(ctx, client, "sleepdebt:events", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var ev ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &ev))
	assert.Equal(t, EventRefresh, ev.Kind)
	assert.Equal(t, []string{"2024-05-20@anchor4"}, ev.DirtyDays)
	assert.True(t, ev.At.Equal(at))
}

func TestStreamPublisher_Recent(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	p := NewStreamPublisher(client, "sleepdebt:events", 100, zap.NewNop())

	require.NoError(t, p.Publish(ctx, ChangeEvent{Kind: EventRefresh, Written: 2}))
	_, err := commonredis.PublishToStream(ctx, client, "sleepdebt:events", 0, map[string]interface{}{"data": "{"})
	require.NoError(t, err)
	require.NoError(t, p.Publish(ctx, ChangeEvent{Kind: EventGoalChanged, Written: 5}))

	events, err := p.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventGoalChanged, events[0].Kind)
	assert.Equal(t, EventRefresh, events[1].Kind)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), ChangeEvent{Kind: EventRefresh}))
	events, err := NopPublisher{}.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
