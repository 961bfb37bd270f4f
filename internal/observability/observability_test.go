package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	routingKey string
	headers    map[string]string
	err        error
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any, headers map[string]string) error {
	p.routingKey = routingKey
	p.headers = headers
	return p.err
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingWSConnections, NewEnvelope("ws", "connected", nil), nil))
}

func TestPublishEventCountsFailures(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("channel closed")}
	SetPublisher(pub)
	defer SetPublisher(nil)

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), RoutingAudit, NewEnvelope("audit", "group_deleted", nil), BuildHeaders("req-1", ""))
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
	assert.Equal(t, RoutingAudit, pub.routingKey)
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, pub.headers)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req = httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "192.168.1.5:4000"
	assert.Equal(t, "192.168.1.5", IPFromRequest(req))
}

func TestRequestIDFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("X-Request-Id", "abc")
	assert.Equal(t, "abc", RequestIDFromRequest(req))

	req.Header.Del("X-Request-Id")
	assert.NotEmpty(t, RequestIDFromRequest(req))
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "crm-chat")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Empty(t, TraceID(context.Background()))
}

func TestNewLoggerFallsBackOnBadLevel(t *testing.T) {
	logger := NewLogger("nope", "prod")
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(0))
}
