// Package notify pushes "conversation updated" events to the real-time UI
// layer. Delivery is fire-and-forget: a lost event never affects dispatch
// correctness.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event describes a successful outbound send, keyed by destination
type Event struct {
	Destination string    `json:"destination"`
	LeadID      string    `json:"lead_id"`
	CampaignID  string    `json:"campaign_id"`
	MessageID   string    `json:"message_id"`
	SentAt      time.Time `json:"sent_at"`
}

// Notifier emits conversation-updated events
type Notifier interface {
	ConversationUpdated(ctx context.Context, ev Event)
}

// RedisNotifier publishes events on a Redis pub/sub channel
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisNotifier creates a notifier publishing to the given channel
func NewRedisNotifier(addr, channel string, logger *slog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  logger,
	}
}

// ConversationUpdated publishes the event. Failures are logged, not
// surfaced.
func (n *RedisNotifier) ConversationUpdated(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("failed to marshal event", "error", err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		n.logger.Warn("failed to publish conversation event", "destination", ev.Destination, "error", err)
	}
}

// Close closes the Redis connection
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// NopNotifier discards all events
type NopNotifier struct{}

// ConversationUpdated implements Notifier
func (NopNotifier) ConversationUpdated(ctx context.Context, ev Event) {}
