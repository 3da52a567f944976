package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events over Redis pub/sub. Each event is a JSON
// envelope on the given channel; subscribers (dashboards, webhook relays)
// fan out from there.
type RedisPublisher struct {
	client redis.UniversalClient
}

// envelope is the wire shape of a published event.
type envelope struct {
	Name      string    `json:"name"`
	Payload   any       `json:"payload,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// NewRedisPublisher creates a publisher over an existing Redis client.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// NewRedisPublisherFromURL dials Redis from a URL such as
// "redis://localhost:6379/0".
func NewRedisPublisherFromURL(url string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("event/redis: parse url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(opts)}, nil
}

// Publish sends the event on the channel. Delivery is fire-and-forget:
// there are no subscribers to confirm, only the publish round trip.
func (p *RedisPublisher) Publish(ctx context.Context, channel, name string, payload any) error {
	data, err := json.Marshal(envelope{
		Name:      name,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("event/redis: marshal %q: %w", name, err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("event/redis: publish %q on %q: %w", name, channel, err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
