package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys    []string
	headers []map[string]string
	err     error
}

func (p *recordingPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	p.keys = append(p.keys, routingKey)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestPublishEventWithoutPublisherIsNoop(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{}, nil))
}

func TestPublishEventForwards(t *testing.T) {
	pub := &recordingPublisher{}
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	err := PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{EventName: "ws_connect"}, BuildHeaders("req-1", ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"ws_events.chats"}, pub.keys)
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, pub.headers[0])

	pub.err = errors.New("closed")
	assert.Error(t, PublishEvent(context.Background(), "ws_events.chats", EventEnvelope{}, nil))
}

func TestWSEventPayload(t *testing.T) {
	env := WSEvent("ws_disconnect", "c1", 5, 2, "10.0.0.1", "eof", time.Now().Add(-time.Second))
	assert.Equal(t, "ws_events", env.EventType)
	payload := env.Payload.(map[string]interface{})
	ws := payload["ws"].(map[string]interface{})
	assert.Equal(t, "c1", ws["conn_id"])
	assert.GreaterOrEqual(t, ws["duration_ms"].(int64), int64(1000))
	identity := payload["identity"].(map[string]interface{})
	assert.Equal(t, 2, identity["company_id"])
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.4:5555"
	assert.Equal(t, "192.168.1.4", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestTraceIDFromContextEmpty(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
