package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter publishes group lifecycle audit records.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TenantID      string       `json:"tenant_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string `json:"level"`
	Action  string `json:"action"`
	Text    string `json:"text"`
	GroupID string `json:"group_id,omitempty"`
}

// AuditRecord is what engines hand to Emit.
type AuditRecord struct {
	TenantID  string
	UserID    string
	RequestID string
	Action    string
	GroupID   string
	Text      string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one record. A nil emitter is a no-op.
func (e *AuditEmitter) Emit(ctx context.Context, level string, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}

	var userID *string
	if rec.UserID != "" {
		id := rec.UserID
		userID = &id
	}
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		TenantID:      rec.TenantID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:   level,
			Action:  rec.Action,
			Text:    rec.Text,
			GroupID: rec.GroupID,
		},
	}

	headers := map[string]string{}
	if rec.RequestID != "" {
		headers["x-request-id"] = rec.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil && e.logger != nil {
		e.logger.Warn("audit publish failed", zap.String("action", rec.Action), zap.Error(err))
	}
}
