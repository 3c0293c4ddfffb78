// Package events publishes domain events to RabbitMQ for the out-of-process
// notification service. The publisher is optional: a nil *Publisher is a
// no-op, and publish failures are logged, never propagated into the
// delivery path.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Exchange is the topic exchange all realtime-core events go to.
const Exchange = "medicate.events"

// Routing keys.
const (
	KeyMessageCreated = "chat.message.created"
	KeyCallMissed     = "call.missed"
)

// MessageCreated is published after a message is persisted.
type MessageCreated struct {
	ChatID     string `json:"chatId"`
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// CallMissed is published when a call offer targets an offline user.
type CallMissed struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
	CalleeID string `json:"calleeId"`
	CallType string `json:"callType"`
}

// Publisher pushes JSON events to a topic exchange.
type Publisher struct {
	conn   *amqp091.Connection
	logger zerolog.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, logger: logger}, nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.conn.Close()
}

// PublishMessageCreated emits a message-created event.
func (p *Publisher) PublishMessageCreated(ctx context.Context, ev MessageCreated) {
	p.publish(ctx, KeyMessageCreated, ev)
}

// PublishCallMissed emits a missed-call event.
func (p *Publisher) PublishCallMissed(ctx context.Context, ev CallMissed) {
	p.publish(ctx, KeyCallMissed, ev)
}

func (p *Publisher) publish(ctx context.Context, key string, v any) {
	if p == nil {
		return
	}

	ch, err := p.conn.Channel()
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("event publish: channel open failed")
		return
	}
	defer ch.Close()

	body, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("event publish: marshal failed")
		return
	}

	err = ch.PublishWithContext(ctx, Exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("event publish failed")
	}
}
