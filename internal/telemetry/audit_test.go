package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	key    string
	events []any
	err    error
}

func (c *capture) Publish(ctx context.Context, routingKey string, event any) error {
	c.key = routingKey
	c.events = append(c.events, event)
	return c.err
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &capture{}
	e := NewAuditEmitter(pub, "audit.chat", "support-chat", "test")
	e.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }

	e.Emit(context.Background(), "info", "chat 3 deleted", Actor{RequestID: "r1", UserID: 2, CompanyID: 1})

	require.Len(t, pub.events, 1)
	assert.Equal(t, "audit.chat", pub.key)
	env := pub.events[0].(AuditEnvelope)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "2024-05-01T10:00:00Z", env.OccurredAt)
	require.NotNil(t, env.UserID)
	assert.Equal(t, 2, *env.UserID)
	require.NotNil(t, env.CompanyID)
	assert.Equal(t, "chat 3 deleted", env.Payload.Text)
}

func TestEmitOmitsAnonymousActorAndSwallowsErrors(t *testing.T) {
	pub := &capture{err: errors.New("broker down")}
	e := NewAuditEmitter(pub, "audit.chat", "support-chat", "test")

	e.Emit(context.Background(), "warn", "anonymous", Actor{})
	env := pub.events[0].(AuditEnvelope)
	assert.Nil(t, env.UserID)
	assert.Nil(t, env.CompanyID)

	var nilEmitter *AuditEmitter
	nilEmitter.Emit(context.Background(), "info", "ignored", Actor{})
}
