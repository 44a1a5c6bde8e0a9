// Package audit forwards message lifecycle events to a RabbitMQ topic
// exchange for downstream consumers.
package audit

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher publishes audit envelopes.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope) error
	Close() error
}

// NewPublisher dials RabbitMQ and declares a durable topic exchange. An empty
// URL or any setup failure yields a publisher that only logs.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if amqpURL == "" {
		logger.Info("audit disabled, using noop", zap.String("reason", "empty amqp url"))
		return &noopPublisher{reason: "empty amqp url", logger: logger}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Warn("audit disabled, using noop", zap.Error(err))
		return &noopPublisher{reason: err.Error(), logger: logger}
	}
	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("audit disabled, using noop", zap.Error(err))
		_ = conn.Close()
		return &noopPublisher{reason: err.Error(), logger: logger}
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Warn("audit disabled, using noop", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return &noopPublisher{reason: err.Error(), logger: logger}
	}

	logger.Info("audit connected", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    env.ID,
		Type:         env.EventType,
		Body:         body,
	})
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p *noopPublisher) Publish(_ context.Context, routingKey string, env Envelope) error {
	p.logger.Debug("audit noop publish",
		zap.String("routing_key", routingKey),
		zap.String("event_type", env.EventType),
		zap.String("conversation_id", env.ConversationID),
	)
	return nil
}

func (p *noopPublisher) Close() error { return nil }

// Mode reports "amqp" or "noop" for logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case *noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// NoopReason is why a noop publisher was chosen, or "".
func NoopReason(p Publisher) string {
	if n, ok := p.(*noopPublisher); ok {
		return n.reason
	}
	return ""
}
