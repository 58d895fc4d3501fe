package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix is prepended to the recipient id to form the pub/sub channel.
const ChannelPrefix = "settlement:notifications:"

// Message describes a notification payload.
type Message struct {
	Kind        string `json:"kind"`
	Destination string `json:"destination"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// RedisNotifier publishes each message on the recipient's channel so the
// messaging service can fan it out to connected clients.
type RedisNotifier struct {
	cache *redis.Client
}

func NewRedisNotifier(cache *redis.Client) *RedisNotifier {
	return &RedisNotifier{cache: cache}
}

func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := n.cache.Publish(ctx, ChannelPrefix+message.Destination, payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Fanout sends to every notifier and returns the first failure.
type Fanout []Notifier

func (f Fanout) Send(ctx context.Context, message Message) error {
	var first error
	for _, n := range f {
		if err := n.Send(ctx, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}
