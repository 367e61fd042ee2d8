package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Refresher anything that can run a refresh.
type Refresher interface {
	Refresh(ctx context.Context) ([]string, error)
}

// Poller refreshes once at start and then on every tick.
type Poller struct {
	refresher Refresher
	interval  time.Duration
	logger    *zap.Logger
}

func NewPoller(refresher Refresher, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{refresher: refresher, interval: interval, logger: logger}
}

// Start blocks until ctx is done. A non-positive interval refreshes once and waits.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("Starting refresh polling", zap.Duration("interval", p.interval))

	p.runOnce(ctx)
	if p.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	dirty, err := p.refresher.Refresh(ctx)
	if err != nil {
		// status already records the failure
		p.logger.Debug("Polled refresh failed", zap.Error(err))
		return
	}
	if len(dirty) > 0 {
		p.logger.Info("Polled refresh applied changes", zap.Int("dirty_days", len(dirty)))
	}
}
