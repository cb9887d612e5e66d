// internal/push/redis.go
// Real-time event fan-out over Redis pub/sub

package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPusher publishes per-user events to Redis channels. Connected
// edge servers subscribe to user:<id>:events and forward to clients;
// offline users rely on the unread counters instead, so publish
// failures are logged and dropped.
type RedisPusher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPusher(client *redis.Client, logger *zap.Logger) *RedisPusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPusher{client: client, logger: logger}
}

type envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	SentAt  time.Time   `json:"sent_at"`
}

func (p *RedisPusher) Push(ctx context.Context, userID int64, event string, payload interface{}) {
	data, err := json.Marshal(envelope{Event: event, Payload: payload, SentAt: time.Now()})
	if err != nil {
		p.logger.Error("encode push event", zap.String("event", event), zap.Error(err))
		return
	}

	channel := fmt.Sprintf("user:%d:events", userID)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("publish push event failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err))
	}
}
