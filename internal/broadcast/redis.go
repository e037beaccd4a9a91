package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/playperu/quizarena/internal/engine"
)

const (
	channelPrefix = "quizarena:session:"
	queueSize     = 1024
)

// Channel is the Redis channel carrying a session's events.
func Channel(sessionID string) string { return channelPrefix + sessionID }

type message struct {
	channel string
	data    []byte
}

// Redis publishes events to Redis pub/sub. Publish only enqueues; Run
// drains the queue in order, so events of a session keep their order.
type Redis struct {
	client *redis.Client
	queue  chan message
	logger *slog.Logger
}

func NewRedis(client *redis.Client, logger *slog.Logger) *Redis {
	return &Redis{
		client: client,
		queue:  make(chan message, queueSize),
		logger: logger,
	}
}

func (r *Redis) Publish(_ context.Context, ev engine.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding event", "type", ev.Type, "error", err)
		return
	}
	select {
	case r.queue <- message{channel: Channel(ev.SessionID), data: data}:
	default:
		r.logger.Warn("redis publish queue full, dropping event", "type", ev.Type, "session_id", ev.SessionID)
	}
}

// Run publishes queued events until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-r.queue:
			if err := r.client.Publish(ctx, m.channel, m.data).Err(); err != nil {
				r.logger.Error("redis publish failed", "channel", m.channel, "error", err)
			}
		}
	}
}

// Relay forwards every session event published on Redis to the local
// broker until ctx is done.
func Relay(ctx context.Context, client *redis.Client, broker *Broker, logger *slog.Logger) error {
	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to session events: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sessionID := strings.TrimPrefix(msg.Channel, channelPrefix)
			logger.Debug("relaying event", "session_id", sessionID)
			broker.Send(sessionID, []byte(msg.Payload))
		}
	}
}

// Checker adapts *redis.Client to a health check.
type Checker struct{ Client *redis.Client }

func (c Checker) Check(ctx context.Context) error { return c.Client.Ping(ctx).Err() }
