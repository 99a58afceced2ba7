package notify

import (
	"context"

	"support-chat/internal/models"
)

// Bus is a routing-key based message publisher such as the AMQP exchange.
type Bus interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// RoutingPrefix namespaces chat events on the bus.
const RoutingPrefix = "chat_events."

// BusPublisher forwards chat events to a Bus, using the channel name as the
// routing key suffix.
type BusPublisher struct {
	bus Bus
}

func NewBusPublisher(bus Bus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

// BusMessage is the body published for each event.
type BusMessage struct {
	Channel string           `json:"channel"`
	Event   models.ChatEvent `json:"event"`
}

func (p *BusPublisher) Publish(ctx context.Context, channel string, event models.ChatEvent) error {
	return p.bus.Publish(ctx, RoutingPrefix+channel, BusMessage{Channel: channel, Event: event})
}
