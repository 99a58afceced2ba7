// Package redisbus relays chat events between service instances over Redis
// pub/sub.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"support-chat/internal/models"
)

// ChannelPattern matches every realtime channel name.
const ChannelPattern = "tenant-*"

// Connect parses the URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Publisher publishes chat events with PUBLISH on the channel name.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, event models.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Broadcaster delivers encoded events to local subscribers.
type Broadcaster interface {
	Broadcast(channel string, data []byte) int
}

// Bridge forwards every message published on a tenant channel to the local
// broadcaster, so each instance serves its own websocket clients.
type Bridge struct {
	client *redis.Client
	target Broadcaster
	ready  chan struct{}
}

func NewBridge(client *redis.Client, target Broadcaster) *Bridge {
	return &Bridge{client: client, target: target, ready: make(chan struct{})}
}

// Ready is closed once the pattern subscription is confirmed.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Run relays messages until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, ChannelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", ChannelPattern, err)
	}
	close(b.ready)
	log.Info().Str("pattern", ChannelPattern).Msg("redis bridge subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			delivered := b.target.Broadcast(msg.Channel, []byte(msg.Payload))
			log.Debug().Str("channel", msg.Channel).Int("delivered", delivered).Msg("redis bridge relay")
		}
	}
}
