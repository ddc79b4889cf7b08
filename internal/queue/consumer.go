package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NotificationConsumer listens to preorder.status_changed and hands every
// event to the mail outbox, currently a line-per-message file under Dir that
// the mail relay tails.  Delivery problems never reach the pre-order flow.
type NotificationConsumer struct {
	URL    string
	Dir    string
	Logger *zap.Logger
}

// Run connects, consumes and reconnects with backoff until ctx is done.
func (c *NotificationConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Logger.Warn("notification-consumer: failed to dial broker", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("notification-consumer: consume loop ended; reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *NotificationConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Logger.Warn("notification-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(PreOrderStatusChangedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(PreOrderStatusChangedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(d.Body); err != nil {
				c.Logger.Warn("notification-consumer: handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *NotificationConsumer) handle(body []byte) error {
	var ev PreOrderStatusChanged
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.Dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.Dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open outbox: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(FormatNotification(ev)); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}

var subjects = map[string]string{
	"pending":    "We have your pre-order",
	"approved":   "Your pre-order was approved",
	"processing": "We are charging your pre-order",
	"paid":       "Your tickets are confirmed",
	"failed":     "Your pre-order could not be completed",
	"cancelled":  "Your pre-order was cancelled",
}

// FormatNotification renders one outbox line for ev.
func FormatNotification(ev PreOrderStatusChanged) string {
	to := ev.UserEmail
	if to == "" {
		to = fmt.Sprintf("user:%d", ev.UserID)
	}
	subject, ok := subjects[ev.Status]
	if !ok {
		subject = "Your pre-order was updated"
	}
	line := fmt.Sprintf("[%s] to=%s | subject=%q | pre_order_id=%s | event_id=%d | quantity=%d | total=%s | status=%s",
		ev.OccurredAt, to, subject, ev.PreOrderID, ev.EventID, ev.Quantity, ev.TotalPrice, ev.Status)
	if ev.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", ev.Reason)
	}
	return line + "\n"
}
