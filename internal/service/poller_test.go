package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRefresher struct {
	calls int32
}

func (c *countingRefresher) Refresh(context.Context) ([]string, error) {
	atomic.AddInt32(&c.calls, 1)
	return []string{"d"}, nil
}

func TestPoller_RefreshesOnStartAndOnTick(t *testing.T) {
	r := &countingRefresher{}
	p := NewPoller(r, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&r.calls) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestPoller_ZeroIntervalRunsOnce(t *testing.T) {
	r := &countingRefresher{}
	p := NewPoller(r, 0, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Start(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}
