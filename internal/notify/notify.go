package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

// Publisher pushes a chat event to a named realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, event models.ChatEvent) error
}

// TenantChannel carries tenant-wide chat list changes.
func TenantChannel(companyID int) string {
	return fmt.Sprintf("tenant-%d-chat", companyID)
}

// ChatChannel carries events for a single chat.
func ChatChannel(companyID, chatID int) string {
	return fmt.Sprintf("tenant-%d-chat-%d", companyID, chatID)
}

// UserChannel carries membership events for one user.
func UserChannel(companyID, userID int) string {
	return fmt.Sprintf("tenant-%d-chat-user-%d", companyID, userID)
}

type sink struct {
	name      string
	publisher Publisher
}

// Fanout delivers each event to every registered sink. Delivery is best
// effort: a failing sink is logged and does not stop the others.
type Fanout struct {
	mu    sync.RWMutex
	sinks []sink
}

func NewFanout() *Fanout {
	return &Fanout{}
}

// Add registers a sink under a name used in logs and metrics.
func (f *Fanout) Add(name string, p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sink{name: name, publisher: p})
}

// Sinks returns the registered sink names in order.
func (f *Fanout) Sinks() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.name)
	}
	return names
}

// Publish returns the joined sink errors so callers can log them; services
// never fail an operation because of it.
func (f *Fanout) Publish(ctx context.Context, channel string, event models.ChatEvent) error {
	f.mu.RLock()
	sinks := append([]sink(nil), f.sinks...)
	f.mu.RUnlock()

	var errs []error
	for _, s := range sinks {
		err := s.publisher.Publish(ctx, channel, event)
		observability.IncFanoutPublish(s.name, err)
		if err != nil {
			log.Warn().Err(err).Str("sink", s.name).Str("channel", channel).Str("action", event.Action).Msg("realtime publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Emit publishes one event to each channel and swallows failures.
func Emit(ctx context.Context, p Publisher, event models.ChatEvent, channels ...string) {
	if p == nil {
		return
	}
	for _, channel := range channels {
		if err := p.Publish(ctx, channel, event); err != nil {
			log.Debug().Err(err).Str("channel", channel).Msg("event delivery incomplete")
		}
	}
}
