package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat/internal/attachments"
	"support-chat/internal/models"
	"support-chat/internal/services"
	"support-chat/internal/telemetry"
)

type chatService interface {
	Create(ctx context.Context, actor services.Actor, in services.ChatInput) (models.Chat, error)
	Update(ctx context.Context, actor services.Actor, chatID int, in services.ChatInput) (models.Chat, error)
	Show(ctx context.Context, actor services.Actor, chatUUID string) (models.Chat, error)
	Delete(ctx context.Context, actor services.Actor, chatID int) (attachments.DeleteReport, error)
	SendMessage(ctx context.Context, actor services.Actor, chatID int, text string) (models.ChatMessage, error)
	UploadMessage(ctx context.Context, actor services.Actor, chatID int, text string, uploads []attachments.Upload) (models.ChatMessage, error)
	MarkRead(ctx context.Context, actor services.Actor, chatID int) (models.Chat, error)
	ListForOwner(ctx context.Context, actor services.Actor, pageNumber int) (models.Page[models.Chat], error)
	ListMessages(ctx context.Context, actor services.Actor, chatID, pageNumber int) (models.Page[models.ChatMessage], error)
}

// ChatHandler serves the /chats endpoints.
type ChatHandler struct {
	service       chatService
	audit         *telemetry.AuditEmitter
	uploadDir     string
	maxUploadSize int64
}

// NewChatHandler builds a ChatHandler. Uploads are spooled to uploadDir
// before ingestion.
func NewChatHandler(service chatService, audit *telemetry.AuditEmitter, uploadDir string, maxUploadSize int64) *ChatHandler {
	return &ChatHandler{
		service:       service,
		audit:         audit,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// Register mounts the chat routes on an authenticated group.
func (h *ChatHandler) Register(r gin.IRoutes) {
	r.GET("/chats", h.ListChats)
	r.POST("/chats", h.CreateChat)
	r.PUT("/chats/:id", h.UpdateChat)
	r.GET("/chats/:id", h.ShowChat)
	r.DELETE("/chats/:id", h.DeleteChat)
	r.GET("/chats/:id/messages", h.ListMessages)
	r.POST("/chats/:id/messages", h.SendMessage)
	r.POST("/chats/:id/messages/upload", h.UploadMessage)
	r.POST("/chats/:id/read", h.MarkRead)
}

// ListChats returns the caller's chats, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	page, err := h.service.ListForOwner(c.Request.Context(), actorFromContext(c), pageNumber(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ChatHandler) CreateChat(c *gin.Context) {
	var req services.ChatInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	actor := actorFromContext(c)
	chat, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, fmt.Sprintf("chat %d created with %d members", chat.ID, len(chat.Users)))
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) UpdateChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req services.ChatInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chat, err := h.service.Update(c.Request.Context(), actorFromContext(c), chatID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, fmt.Sprintf("chat %d updated", chat.ID))
	c.JSON(http.StatusOK, chat)
}

// ShowChat looks the chat up by its uuid.
func (h *ChatHandler) ShowChat(c *gin.Context) {
	chat, err := h.service.Show(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}

	report, err := h.service.Delete(c.Request.Context(), actorFromContext(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	h.emitAudit(c, fmt.Sprintf("chat %d deleted, %d files removed, %d failed", chatID, report.Deleted, report.Failed))
	c.JSON(http.StatusOK, gin.H{"message": "chat and attachments deleted", "files": report})
}

func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	page, err := h.service.ListMessages(c.Request.Context(), actorFromContext(c), chatID, pageNumber(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.service.SendMessage(c.Request.Context(), actorFromContext(c), chatID, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// MarkRead resets the caller's unread counter for the chat.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, ok := chatIDParam(c)
	if !ok {
		return
	}
	chat, err := h.service.MarkRead(c.Request.Context(), actorFromContext(c), chatID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) emitAudit(c *gin.Context, text string) {
	actor := actorFromContext(c)
	h.audit.Emit(c.Request.Context(), "INFO", text, telemetry.Actor{
		RequestID: requestIDFromContext(c),
		UserID:    actor.UserID,
		CompanyID: actor.CompanyID,
	})
}

func chatIDParam(c *gin.Context) (int, bool) {
	chatID, err := strconv.Atoi(c.Param("id"))
	if err != nil || chatID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return chatID, true
}

func pageNumber(c *gin.Context) int {
	page, err := strconv.Atoi(c.DefaultQuery("pageNumber", "1"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}
