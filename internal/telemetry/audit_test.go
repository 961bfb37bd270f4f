package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey, p.event, p.headers = routingKey, event, headers
	return p.err
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.chat", "crm-chat", "test", zap.NewNop())

	emitter.Emit(context.Background(), "info", AuditRecord{
		TenantID:  "t1",
		UserID:    "u1",
		RequestID: "req-9",
		Action:    "group_deleted",
		GroupID:   "g1",
		Text:      "group deleted",
	})

	require.IsType(t, AuditEnvelope{}, pub.event)
	env := pub.event.(AuditEnvelope)
	assert.Equal(t, "audit.chat", pub.routingKey)
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "t1", env.TenantID)
	require.NotNil(t, env.UserID)
	assert.Equal(t, "u1", *env.UserID)
	assert.Equal(t, "group_deleted", env.Payload.Action)
	assert.Equal(t, "req-9", pub.headers["x-request-id"])
}

func TestEmitToleratesFailuresAndNil(t *testing.T) {
	var nilEmitter *AuditEmitter
	nilEmitter.Emit(context.Background(), "info", AuditRecord{Action: "noop"})

	pub := &capturePublisher{err: errors.New("down")}
	emitter := NewAuditEmitter(pub, "audit.chat", "crm-chat", "test", zap.NewNop())
	emitter.Emit(context.Background(), "warn", AuditRecord{Action: "member_removed"})
	assert.Nil(t, pub.event.(AuditEnvelope).UserID)
}
