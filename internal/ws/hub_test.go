package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/middleware"
	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

const testSecret = "ws-secret"

type stubChats map[int]models.Chat

func (s stubChats) GetChat(ctx context.Context, chatID int) (models.Chat, error) {
	chat, ok := s[chatID]
	if !ok {
		return models.Chat{}, repositories.ErrChatNotFound
	}
	return chat, nil
}

func TestHubSubscribeAndRemove(t *testing.T) {
	hub := NewHub()
	c := hub.Register(nil, ConnInfo{ConnID: "a"})

	hub.Subscribe(c, "tenant-1-chat")
	hub.Subscribe(c, "tenant-1-chat-2")
	assert.Equal(t, 1, hub.Subscribers("tenant-1-chat"))

	hub.Unsubscribe(c, "tenant-1-chat-2")
	assert.Zero(t, hub.Subscribers("tenant-1-chat-2"))

	hub.Remove(c)
	assert.Zero(t, hub.Subscribers("tenant-1-chat"))
	assert.Empty(t, hub.channels)

	hub.Subscribe(c, "tenant-1-chat")
	assert.Zero(t, hub.Subscribers("tenant-1-chat"), "removed clients cannot resubscribe")
}

func newTestServer(t *testing.T, hub *Hub, chats stubChats) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewHandler(hub, chats, testSecret).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, userID, companyID int, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	token, err := middleware.IssueToken(testSecret, userID, companyID, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func waitForSubscribers(t *testing.T, hub *Hub, channel string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Subscribers(channel) == n }, 2*time.Second, 10*time.Millisecond)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestHandlerSubscribesTenantAndUserChannels(t *testing.T) {
	hub := NewHub()
	chats := stubChats{
		7: {ID: 7, CompanyID: 1, Users: []models.ChatUser{{UserID: 3}}},
	}
	srv := newTestServer(t, hub, chats)

	conn, _, err := dial(t, srv, 3, 1, "&chat_id=7")
	require.NoError(t, err)
	defer conn.Close()

	waitForSubscribers(t, hub, "tenant-1-chat-7", 1)
	assert.Equal(t, 1, hub.Subscribers("tenant-1-chat"))
	assert.Equal(t, 1, hub.Subscribers("tenant-1-chat-user-3"))

	require.NoError(t, hub.Publish(context.Background(), "tenant-1-chat-7", models.ChatEvent{Action: models.ActionNewMessage}))
	frame := readFrame(t, conn)
	assert.Equal(t, "tenant-1-chat-7", frame.Channel)

	var event models.ChatEvent
	require.NoError(t, json.Unmarshal(frame.Data, &event))
	assert.Equal(t, models.ActionNewMessage, event.Action)
}

func TestHandlerRejectsNonMembers(t *testing.T) {
	hub := NewHub()
	chats := stubChats{
		7: {ID: 7, CompanyID: 1, Users: []models.ChatUser{{UserID: 3}}},
		8: {ID: 8, CompanyID: 2, Users: []models.ChatUser{{UserID: 4}}},
	}
	srv := newTestServer(t, hub, chats)

	_, resp, err := dial(t, srv, 4, 1, "&chat_id=7")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, 4, 1, "&chat_id=8")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "chats of other tenants are hidden")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=bogus"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerSubscriptionMessages(t *testing.T) {
	hub := NewHub()
	chats := stubChats{
		7: {ID: 7, CompanyID: 1, Users: []models.ChatUser{{UserID: 3}}},
		9: {ID: 9, CompanyID: 1, Users: []models.ChatUser{{UserID: 5}}},
	}
	srv := newTestServer(t, hub, chats)

	conn, _, err := dial(t, srv, 3, 1, "")
	require.NoError(t, err)
	defer conn.Close()
	waitForSubscribers(t, hub, "tenant-1-chat", 1)

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Action: "subscribe", ChatID: 7}))
	var reply map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "tenant-1-chat-7", reply["subscribed"])
	assert.Equal(t, 1, hub.Subscribers("tenant-1-chat-7"))

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Action: "subscribe", ChatID: 9}))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "not authorized for chat", reply["error"])
	assert.Zero(t, hub.Subscribers("tenant-1-chat-9"))

	require.NoError(t, conn.WriteJSON(SubscriptionRequest{Action: "unsubscribe", ChatID: 7}))
	reply = nil
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "tenant-1-chat-7", reply["unsubscribed"])
	assert.Zero(t, hub.Subscribers("tenant-1-chat-7"))
}

func TestHandlerCleansUpOnClose(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub, stubChats{})

	conn, _, err := dial(t, srv, 3, 1, "")
	require.NoError(t, err)
	waitForSubscribers(t, hub, "tenant-1-chat-user-3", 1)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, hub, "tenant-1-chat-user-3", 0)
	assert.Zero(t, hub.Subscribers("tenant-1-chat"))
}
