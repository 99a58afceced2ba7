package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/models"
)

// PublisherMock records realtime chat events.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, channel string, event models.ChatEvent) error {
	args := m.Called(ctx, channel, event)
	return args.Error(0)
}

// BusMock records routing-key publishes such as audit envelopes.
type BusMock struct {
	mock.Mock
}

func (m *BusMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *BusMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
