package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/notify"
	"support-chat/internal/observability"
	"support-chat/internal/repositories"
)

// ChatGetter loads chats to authorize chat channel subscriptions.
type ChatGetter interface {
	GetChat(ctx context.Context, chatID int) (models.Chat, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SubscriptionRequest is sent by clients to join or leave a chat channel.
type SubscriptionRequest struct {
	Action string `json:"action"`
	ChatID int    `json:"chatId"`
}

// Handler upgrades authenticated connections and manages their channel
// subscriptions. Every connection listens on its tenant and user channels.
type Handler struct {
	hub    *Hub
	chats  ChatGetter
	secret string
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, chats ChatGetter, secret string) *Handler {
	return &Handler{hub: hub, chats: chats, secret: secret}
}

// Handle serves GET /ws?token=...&chat_id=...
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("support-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	claims, err := middleware.ParseToken(h.secret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var initialChat int
	if raw := c.Query("chat_id"); raw != "" {
		initialChat, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
			return
		}
		if err := h.authorize(ctx, claims.CompanyID, claims.UserID, initialChat); err != nil {
			c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for chat"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	traceID := span.SpanContext().TraceID().String()
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		CompanyID:   claims.CompanyID,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	client := h.hub.Register(conn, info)
	h.hub.Subscribe(client, notify.TenantChannel(info.CompanyID))
	h.hub.Subscribe(client, notify.UserChannel(info.CompanyID, info.UserID))
	if initialChat > 0 {
		h.hub.Subscribe(client, notify.ChatChannel(info.CompanyID, initialChat))
	}

	observability.IncWSActive(wsMetricsLabel)
	observability.IncWSEvent(wsMetricsLabel, "ws_connect")
	h.publish(ctx, "ws_connect", info, "")

	go h.readLoop(context.WithoutCancel(ctx), client)
}

func (h *Handler) readLoop(ctx context.Context, client *Client) {
	info := client.Info()
	var closeReason string
	defer func() {
		h.hub.Remove(client)
		observability.DecWSActive(wsMetricsLabel)
		observability.IncWSEvent(wsMetricsLabel, "ws_disconnect")
		h.publish(ctx, "ws_disconnect", info, closeReason)
		client.conn.Close()
	}()

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(wsMetricsLabel, "ws_error")
				h.publish(ctx, "ws_error", info, closeReason)
			}
			return
		}
		h.handleRequest(ctx, client, data)
	}
}

func (h *Handler) handleRequest(ctx context.Context, client *Client, data []byte) {
	info := client.Info()
	var req SubscriptionRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID <= 0 {
		h.reply(client, gin.H{"error": "invalid request"})
		return
	}

	channel := notify.ChatChannel(info.CompanyID, req.ChatID)
	switch req.Action {
	case "subscribe":
		if err := h.authorize(ctx, info.CompanyID, info.UserID, req.ChatID); err != nil {
			log.Debug().Err(err).Int("chat_id", req.ChatID).Int("user_id", info.UserID).Msg("subscription refused")
			h.reply(client, gin.H{"error": "not authorized for chat", "chatId": req.ChatID})
			return
		}
		h.hub.Subscribe(client, channel)
		h.reply(client, gin.H{"subscribed": channel})
	case "unsubscribe":
		h.hub.Unsubscribe(client, channel)
		h.reply(client, gin.H{"unsubscribed": channel})
	default:
		h.reply(client, gin.H{"error": "unknown action"})
	}
}

var errNotMember = errors.New("not a chat member")

// authorize checks that the chat belongs to the tenant and the user is a
// member of it.
func (h *Handler) authorize(ctx context.Context, companyID, userID, chatID int) error {
	chat, err := h.chats.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.CompanyID != companyID {
		return repositories.ErrChatNotFound
	}
	if _, ok := chat.Member(userID); !ok {
		return errNotMember
	}
	return nil
}

func (h *Handler) reply(client *Client, body gin.H) {
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := client.write(payload); err != nil {
		log.Debug().Err(err).Str("conn_id", client.info.ConnID).Msg("websocket reply failed")
	}
}

func (h *Handler) publish(ctx context.Context, name string, info ConnInfo, reason string) {
	_ = observability.PublishEvent(ctx, wsRoutingKey,
		observability.WSEvent(name, info.ConnID, info.UserID, info.CompanyID, info.IP, reason, info.ConnectedAt),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
