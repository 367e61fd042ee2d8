package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Refresher runs one sync round.
type Refresher interface {
	Refresh(ctx context.Context) ([]string, error)
}

// RefreshNotice payload published by the health data bridge when new samples land.
// An empty payload is accepted as a bare trigger.
type RefreshNotice struct {
	Source    string `json:"source,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// RefreshBroker turns MQTT notices into refreshes.
type RefreshBroker struct {
	refresher Refresher
	timeout   time.Duration
	logger    *zap.Logger
}

func NewRefreshBroker(refresher Refresher, timeout time.Duration, logger *zap.Logger) *RefreshBroker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RefreshBroker{refresher: refresher, timeout: timeout, logger: logger}
}

// HandleMessage matches the common mqtt MessageHandler signature.
func (b *RefreshBroker) HandleMessage(topic string, payload []byte) error {
	var notice RefreshNotice
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &notice); err != nil {
			return fmt.Errorf("failed to unmarshal refresh notice: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	dirty, err := b.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh triggered by %s failed: %w", topic, err)
	}
	b.logger.Debug("Refresh triggered over MQTT",
		zap.String("topic", topic),
		zap.String("source", notice.Source),
		zap.Int("dirty_days", len(dirty)),
	)
	return nil
}
