// Package messaging implements the roster change fanout over Redis pub/sub.
package messaging

import (
	"context"

	"prefect_server/core/domain"
	"prefect_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelRosterChanged = "roster:changed"

// RedisNotifier implements out.RosterNotifier on a Redis pub/sub channel.
// Delivery is fire-and-forget: subscribers that miss an event simply refresh
// on the next one. The channel is advisory, never a synchronization
// primitive.
type RedisNotifier struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisNotifier creates a notifier on the given Redis client.
func NewRedisNotifier(client *redis.Client, log zerolog.Logger) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		log:    log.With().Str("component", "roster-notifier").Logger(),
	}
}

// PublishRosterChanged announces a successful remote mutation.
func (n *RedisNotifier) PublishRosterChanged(ctx context.Context, event domain.RosterEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, channelRosterChanged, payload).Err(); err != nil {
		n.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to publish roster event")
		return err
	}
	return nil
}

// Subscribe invokes fn for every roster event until unsubscribed or ctx is
// cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, fn func(domain.RosterEvent)) (func(), error) {
	pubsub := n.client.Subscribe(ctx, channelRosterChanged)

	// Confirm the subscription before handing out the cancel func.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.RosterEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					n.log.Warn().Err(err).Msg("dropping malformed roster event")
					continue
				}
				fn(event)
			}
		}
	}()

	return func() { pubsub.Close() }, nil
}

// =============================================================================
// Noop Notifier
// =============================================================================

// NoopNotifier is used when no Redis endpoint is configured: publishes vanish
// and subscriptions never fire. Single-session deployments lose nothing.
type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (NoopNotifier) PublishRosterChanged(ctx context.Context, event domain.RosterEvent) error {
	return nil
}

func (NoopNotifier) Subscribe(ctx context.Context, fn func(domain.RosterEvent)) (func(), error) {
	return func() {}, nil
}

// Ensure both implement the port
var (
	_ out.RosterNotifier = (*RedisNotifier)(nil)
	_ out.RosterNotifier = (*NoopNotifier)(nil)
)
