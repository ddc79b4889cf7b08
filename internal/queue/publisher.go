package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends domain events to RabbitMQ.  Each publish dials, declares
// the durable queue and sends one persistent message; errors are logged and
// returned so callers can ignore them without interrupting the request.
type Publisher struct {
	url    string
	logger *zap.Logger
}

func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return &Publisher{url: url, logger: logger}
}

// PreOrderStatusChanged publishes ev to the preorder.status_changed queue.
func (p *Publisher) PreOrderStatusChanged(ctx context.Context, ev PreOrderStatusChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("rabbitmq: marshal event failed", zap.Error(err))
		return err
	}
	return p.publish(ctx, PreOrderStatusChangedQueue, body)
}

func (p *Publisher) publish(ctx context.Context, queue string, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Warn("rabbitmq: dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Warn("rabbitmq: channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.logger.Warn("rabbitmq: queue declare failed", zap.String("queue", queue), zap.Error(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.logger.Warn("rabbitmq: publish failed", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}
