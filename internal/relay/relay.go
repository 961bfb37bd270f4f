// Package relay fans socket frames out to every server process over Redis
// pub/sub, so a user connected to another instance still receives them.
package relay

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one encoded frame addressed to a user room, or to the whole
// tenant when UserID is empty.
type Message struct {
	Origin   string          `json:"origin"`
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id,omitempty"`
	Frame    json.RawMessage `json:"frame"`
}

type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

func New(client *redis.Client, channel string, logger *zap.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger,
	}
}

// Origin identifies this process on the channel.
func (r *Relay) Origin() string {
	return r.origin
}

func (r *Relay) Publish(ctx context.Context, msg Message) error {
	msg.Origin = r.origin
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal relay message")
	}
	return errors.Wrap(r.client.Publish(ctx, r.channel, data).Err(), "publish relay message")
}

// Run delivers messages published by other processes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context, deliver func(Message)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe relay channel")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(m.Payload, deliver)
		}
	}
}

func (r *Relay) handle(payload string, deliver func(Message)) {
	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		r.logger.Warn("relay message dropped", zap.Error(err))
		return
	}
	if msg.Origin == r.origin {
		return
	}
	deliver(msg)
}

func (r *Relay) Close() error {
	return r.client.Close()
}
