package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	commonredis "sleepdebt/common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Event kinds published after a committed write.
const (
	EventRefresh         = "refresh"
	EventGoalChanged     = "goal_changed"
	EventBoundaryChanged = "boundary_changed"
)

// ChangeEvent summarises one committed write for downstream consumers.
type ChangeEvent struct {
	Kind      string    `json:"kind"`
	DirtyDays []string  `json:"dirty_days"`
	Written   int       `json:"written"`
	At        time.Time `json:"at"`
}

// EventPublisher delivers change events.
type EventPublisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// EventReader lists recently published events, newest first.
type EventReader interface {
	Recent(ctx context.Context, count int64) ([]ChangeEvent, error)
}

// StreamPublisher appends events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	id, err := commonredis.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, ev)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", ev.Kind, err)
	}
	p.logger.Debug("Published change event",
		zap.String("stream", p.stream),
		zap.String("id", id),
		zap.String("kind", ev.Kind),
		zap.Int("dirty_days", len(ev.DirtyDays)),
	)
	return nil
}

// Recent decodes the newest count events. Entries that do not decode are skipped.
func (p *StreamPublisher) Recent(ctx context.Context, count int64) ([]ChangeEvent, error) {
	msgs, err := commonredis.ReadLatest(ctx, p.client, p.stream, count)
	if err != nil {
		return nil, err
	}
	events := make([]ChangeEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, _ := msg.Values["data"].(string)
		var ev ChangeEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			p.logger.Warn("Skipping undecodable change event", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// NopPublisher drops events when Redis is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ChangeEvent) error { return nil }

func (NopPublisher) Recent(context.Context, int64) ([]ChangeEvent, error) {
	return []ChangeEvent{}, nil
}
