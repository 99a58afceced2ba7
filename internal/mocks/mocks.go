package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/attachments"
	"support-chat/internal/models"
	"support-chat/internal/services"
)

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) Create(ctx context.Context, actor services.Actor, in services.ChatInput) (models.Chat, error) {
	args := m.Called(ctx, actor, in)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) Update(ctx context.Context, actor services.Actor, chatID int, in services.ChatInput) (models.Chat, error) {
	args := m.Called(ctx, actor, chatID, in)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) Show(ctx context.Context, actor services.Actor, chatUUID string) (models.Chat, error) {
	args := m.Called(ctx, actor, chatUUID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) Delete(ctx context.Context, actor services.Actor, chatID int) (attachments.DeleteReport, error) {
	args := m.Called(ctx, actor, chatID)
	var report attachments.DeleteReport
	if val := args.Get(0); val != nil {
		report = val.(attachments.DeleteReport)
	}
	return report, args.Error(1)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, actor services.Actor, chatID int, text string) (models.ChatMessage, error) {
	args := m.Called(ctx, actor, chatID, text)
	var msg models.ChatMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) UploadMessage(ctx context.Context, actor services.Actor, chatID int, text string, uploads []attachments.Upload) (models.ChatMessage, error) {
	args := m.Called(ctx, actor, chatID, text, uploads)
	var msg models.ChatMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.ChatMessage)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) MarkRead(ctx context.Context, actor services.Actor, chatID int) (models.Chat, error) {
	args := m.Called(ctx, actor, chatID)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) ListForOwner(ctx context.Context, actor services.Actor, pageNumber int) (models.Page[models.Chat], error) {
	args := m.Called(ctx, actor, pageNumber)
	var page models.Page[models.Chat]
	if val := args.Get(0); val != nil {
		page = val.(models.Page[models.Chat])
	}
	return page, args.Error(1)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, actor services.Actor, chatID, pageNumber int) (models.Page[models.ChatMessage], error) {
	args := m.Called(ctx, actor, chatID, pageNumber)
	var page models.Page[models.ChatMessage]
	if val := args.Get(0); val != nil {
		page = val.(models.Page[models.ChatMessage])
	}
	return page, args.Error(1)
}
