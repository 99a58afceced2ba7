package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"support-chat/internal/attachments"
	"support-chat/internal/models"
	"support-chat/internal/notify"
	"support-chat/internal/repositories"
)

// PageSize is the fixed page length for chat and message listings.
const PageSize = 20

const attachmentPlaceholder = "[attachment]"

// Actor is the authenticated caller.
type Actor struct {
	UserID    int
	CompanyID int
}

// ChatInput carries the editable fields of a chat.
type ChatInput struct {
	Title string `json:"title"`
	Users []int  `json:"users"`
}

// AttachmentStore persists uploaded files and removes them with their chat.
type AttachmentStore interface {
	IngestBatch(ctx context.Context, companyID int, uploads []attachments.Upload) ([]models.Attachment, error)
	Discard(companyID int, atts []models.Attachment)
	DeleteMessageFiles(companyID int, msgs []models.ChatMessage) attachments.DeleteReport
}

// ChatService implements chat lifecycle, messaging and read tracking, and
// announces every change on the realtime channels.
type ChatService struct {
	chats     repositories.ChatRepository
	messages  repositories.MessageRepository
	users     repositories.UserRepository
	files     AttachmentStore
	publisher notify.Publisher
}

func NewChatService(
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	files AttachmentStore,
	publisher notify.Publisher,
) *ChatService {
	return &ChatService{
		chats:     chats,
		messages:  messages,
		users:     users,
		files:     files,
		publisher: publisher,
	}
}

// Create stores a chat owned by the caller. The owner is always a member.
func (s *ChatService) Create(ctx context.Context, actor Actor, in ChatInput) (models.Chat, error) {
	title, members, err := s.validateInput(ctx, actor, in)
	if err != nil {
		return models.Chat{}, err
	}

	chat, err := s.chats.CreateChat(ctx, models.Chat{
		UUID:      uuid.NewString(),
		Title:     title,
		OwnerID:   actor.UserID,
		CompanyID: actor.CompanyID,
	}, members)
	if err != nil {
		return models.Chat{}, fmt.Errorf("create chat: %w", err)
	}

	for _, member := range chat.Users {
		notify.Emit(ctx, s.publisher, models.ChatEvent{Action: models.ActionCreate, Record: &chat},
			notify.UserChannel(actor.CompanyID, member.UserID))
	}
	return chat, nil
}

// Update replaces the title and member set. Retained members keep their
// unread counters.
func (s *ChatService) Update(ctx context.Context, actor Actor, chatID int, in ChatInput) (models.Chat, error) {
	before, err := s.tenantChat(ctx, actor, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	title, members, err := s.validateInput(ctx, Actor{UserID: before.OwnerID, CompanyID: actor.CompanyID}, in)
	if err != nil {
		return models.Chat{}, err
	}

	if err := s.chats.UpdateChat(ctx, chatID, title, members); err != nil {
		return models.Chat{}, translate(err)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, translate(err)
	}

	// Removed members are told too so their clients drop the chat.
	recipients := append(before.MemberIDs(), chat.MemberIDs()...)
	for _, userID := range dedupe(recipients) {
		notify.Emit(ctx, s.publisher, models.ChatEvent{Action: models.ActionUpdate, Record: &chat, UserID: userID},
			notify.UserChannel(actor.CompanyID, userID))
	}
	return chat, nil
}

// Show finds a chat by its external uuid.
func (s *ChatService) Show(ctx context.Context, actor Actor, chatUUID string) (models.Chat, error) {
	chat, err := s.chats.GetChatByUUID(ctx, chatUUID)
	if err != nil {
		return models.Chat{}, translate(err)
	}
	if chat.CompanyID != actor.CompanyID {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

// Delete removes the chat's attachment files and then the chat itself. File
// cleanup never blocks the delete, and a cancelled request does not stop it.
func (s *ChatService) Delete(ctx context.Context, actor Actor, chatID int) (attachments.DeleteReport, error) {
	ctx = context.WithoutCancel(ctx)

	chat, err := s.tenantChat(ctx, actor, chatID)
	if err != nil {
		return attachments.DeleteReport{}, err
	}

	var report attachments.DeleteReport
	msgs, err := s.messages.ListMessagesWithMedia(ctx, chatID)
	if err != nil {
		log.Error().Err(err).Int("chat_id", chatID).Msg("could not list chat attachments, skipping file cleanup")
	} else {
		report = s.files.DeleteMessageFiles(actor.CompanyID, msgs)
	}
	log.Info().
		Int("chat_id", chatID).
		Int("messages", len(msgs)).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Msg("chat attachments cleaned up")

	if err := s.chats.DeleteChat(ctx, chatID); err != nil {
		return report, translate(err)
	}

	notify.Emit(ctx, s.publisher, models.ChatEvent{Action: models.ActionDelete, ID: chat.ID},
		notify.TenantChannel(actor.CompanyID))
	return report, nil
}

// SendMessage posts a text message from the caller.
func (s *ChatService) SendMessage(ctx context.Context, actor Actor, chatID int, text string) (models.ChatMessage, error) {
	if strings.TrimSpace(text) == "" {
		return models.ChatMessage{}, &ValidationError{Field: "message", Message: "message is required"}
	}
	chat, err := s.memberChat(ctx, actor, chatID)
	if err != nil {
		return models.ChatMessage{}, err
	}
	return s.appendMessage(ctx, actor, chat, text, nil)
}

// UploadMessage stores the uploads and posts them as one message. Either
// every file is attached or none is kept on disk.
func (s *ChatService) UploadMessage(ctx context.Context, actor Actor, chatID int, text string, uploads []attachments.Upload) (models.ChatMessage, error) {
	if len(uploads) == 0 {
		return models.ChatMessage{}, &ValidationError{Field: "files", Message: "no files received"}
	}
	chat, err := s.memberChat(ctx, actor, chatID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	files, err := s.files.IngestBatch(ctx, actor.CompanyID, uploads)
	if err != nil {
		return models.ChatMessage{}, &AttachmentIOError{Op: "store attachments", Err: err}
	}

	msg, err := s.appendMessage(ctx, actor, chat, text, files)
	if err != nil {
		s.files.Discard(actor.CompanyID, files)
		return models.ChatMessage{}, err
	}
	return msg, nil
}

func (s *ChatService) appendMessage(ctx context.Context, actor Actor, chat models.Chat, text string, files models.Attachments) (models.ChatMessage, error) {
	name, err := s.senderName(ctx, chat, actor.UserID)
	if err != nil {
		return models.ChatMessage{}, err
	}

	msg, err := s.messages.AppendMessage(ctx, repositories.NewMessage{
		ChatID:      chat.ID,
		SenderID:    actor.UserID,
		Text:        text,
		Files:       files,
		LastMessage: lastMessagePreview(name, text),
	})
	if err != nil {
		return models.ChatMessage{}, translate(err)
	}

	refreshed, err := s.chats.GetChat(ctx, chat.ID)
	if err != nil {
		return models.ChatMessage{}, translate(err)
	}
	msg.Chat = &refreshed

	event := models.ChatEvent{Action: models.ActionNewMessage, NewMessage: &msg, Chat: &refreshed}
	notify.Emit(ctx, s.publisher, event,
		notify.ChatChannel(actor.CompanyID, chat.ID),
		notify.TenantChannel(actor.CompanyID))
	return msg, nil
}

// MarkRead resets the caller's unread counter.
func (s *ChatService) MarkRead(ctx context.Context, actor Actor, chatID int) (models.Chat, error) {
	if _, err := s.tenantChat(ctx, actor, chatID); err != nil {
		return models.Chat{}, err
	}
	if err := s.chats.ResetUnreads(ctx, chatID, actor.UserID); err != nil {
		return models.Chat{}, translate(err)
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, translate(err)
	}

	notify.Emit(ctx, s.publisher, models.ChatEvent{Action: models.ActionUpdate, Chat: &chat},
		notify.ChatChannel(actor.CompanyID, chatID),
		notify.TenantChannel(actor.CompanyID))
	return chat, nil
}

// ListForOwner pages through the chats the caller belongs to, most recently
// active first.
func (s *ChatService) ListForOwner(ctx context.Context, actor Actor, pageNumber int) (models.Page[models.Chat], error) {
	offset := pageOffset(pageNumber)
	chats, count, err := s.chats.ListChatsForUser(ctx, actor.CompanyID, actor.UserID, PageSize, offset)
	if err != nil {
		return models.Page[models.Chat]{}, fmt.Errorf("list chats: %w", err)
	}
	return models.NewPage(chats, count, offset), nil
}

// ListMessages pages through a chat's messages, newest first.
func (s *ChatService) ListMessages(ctx context.Context, actor Actor, chatID, pageNumber int) (models.Page[models.ChatMessage], error) {
	if _, err := s.memberChat(ctx, actor, chatID); err != nil {
		return models.Page[models.ChatMessage]{}, err
	}
	offset := pageOffset(pageNumber)
	msgs, count, err := s.messages.ListMessages(ctx, chatID, PageSize, offset)
	if err != nil {
		return models.Page[models.ChatMessage]{}, fmt.Errorf("list messages: %w", err)
	}
	return models.NewPage(msgs, count, offset), nil
}

func (s *ChatService) tenantChat(ctx context.Context, actor Actor, chatID int) (models.Chat, error) {
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, translate(err)
	}
	if chat.CompanyID != actor.CompanyID {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

func (s *ChatService) memberChat(ctx context.Context, actor Actor, chatID int) (models.Chat, error) {
	chat, err := s.tenantChat(ctx, actor, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if _, ok := chat.Member(actor.UserID); !ok {
		return models.Chat{}, ErrNotMember
	}
	return chat, nil
}

func (s *ChatService) senderName(ctx context.Context, chat models.Chat, userID int) (string, error) {
	if member, ok := chat.Member(userID); ok && member.User != nil {
		return member.User.Name, nil
	}
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load sender: %w", err)
	}
	return user.Name, nil
}

// validateInput normalizes the title and member list. The owner is added
// when missing and every member must belong to the company.
func (s *ChatService) validateInput(ctx context.Context, owner Actor, in ChatInput) (string, []int, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return "", nil, &ValidationError{Field: "title", Message: "title is required"}
	}
	if len(in.Users) == 0 {
		return "", nil, &ValidationError{Field: "users", Message: "at least one member is required"}
	}

	members := dedupe(append([]int{owner.UserID}, in.Users...))
	known, err := s.users.CompanyUserIDs(ctx, owner.CompanyID, members)
	if err != nil {
		return "", nil, fmt.Errorf("validate members: %w", err)
	}
	if missing := difference(members, known); len(missing) > 0 {
		return "", nil, &ValidationError{Field: "users", Message: "unknown users: " + joinInts(missing)}
	}
	return title, members, nil
}

func lastMessagePreview(senderName, text string) string {
	if text == "" {
		text = attachmentPlaceholder
	}
	return senderName + ": " + text
}

func pageOffset(pageNumber int) int {
	if pageNumber < 1 {
		pageNumber = 1
	}
	return (pageNumber - 1) * PageSize
}

func translate(err error) error {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound):
		return ErrChatNotFound
	case errors.Is(err, repositories.ErrMembershipNotFound):
		return ErrMembershipNotFound
	default:
		return err
	}
}

func dedupe(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func difference(want, have []int) []int {
	present := make(map[int]struct{}, len(have))
	for _, id := range have {
		present[id] = struct{}{}
	}
	var missing []int
	for _, id := range want {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)
	return missing
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
