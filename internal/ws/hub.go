package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	wsRoutingKey   = "ws_events.chats"
	wsMetricsLabel = "chat"
)

// Frame is the envelope written to subscribers.
type Frame struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Client is one websocket connection and the channels it listens on.
type Client struct {
	conn     *websocket.Conn
	info     ConnInfo
	writeMu  sync.Mutex
	channels map[string]struct{}
}

func (c *Client) Info() ConnInfo {
	return c.info
}

func (c *Client) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub routes channel messages to subscribed websocket clients.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		clients:  make(map[*Client]struct{}),
	}
}

// Register tracks a connection. It receives nothing until subscribed.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) *Client {
	c := &Client{conn: conn, info: info, channels: make(map[string]struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// Subscribe adds the client to a channel.
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
	c.channels[channel] = struct{}{}
}

// Unsubscribe removes the client from a channel.
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, channel)
}

func (h *Hub) unsubscribeLocked(c *Client, channel string) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.channels, channel)
}

// Remove drops the client from every channel.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range c.channels {
		h.unsubscribeLocked(c, channel)
	}
	delete(h.clients, c)
}

// Subscribers reports how many clients listen on a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// Publish implements notify.Publisher for in-process subscribers.
func (h *Hub) Publish(ctx context.Context, channel string, event models.ChatEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(channel, data)
	return nil
}

// Broadcast writes an already encoded event to every subscriber of channel
// and returns the number of successful deliveries. Clients that fail a write
// are closed and removed.
func (h *Hub) Broadcast(channel string, data []byte) int {
	h.mu.RLock()
	subs := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		subs = append(subs, c)
	}
	h.mu.RUnlock()
	if len(subs) == 0 {
		return 0
	}

	payload, err := json.Marshal(Frame{Channel: channel, Data: data})
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("could not encode websocket frame")
		return 0
	}

	delivered := 0
	for _, c := range subs {
		if err := c.write(payload); err != nil {
			log.Warn().Err(err).Str("conn_id", c.info.ConnID).Msg("websocket write error")
			h.drop(c, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) drop(c *Client, err error) {
	h.Remove(c)
	if c.conn != nil {
		c.conn.Close()
	}
	h.publishWSError(c.info, err)
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey,
		observability.WSEvent("ws_error", info.ConnID, info.UserID, info.CompanyID, info.IP, err.Error(), info.ConnectedAt),
		headers)
	observability.IncWSEvent(wsMetricsLabel, "ws_error")
}
