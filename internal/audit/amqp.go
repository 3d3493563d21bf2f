package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const publishTimeout = 5 * time.Second

// AMQPTrail publishes audit events to a topic exchange. The routing key is
// the event action, so consumers can bind "document.*" or "analysis.failed".
// Publishing is best effort: a broker outage is logged and the channel is
// re-dialed on the next event.
type AMQPTrail struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPTrail(url, exchange string, logger *slog.Logger) (*AMQPTrail, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = "auditdesk.audit"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPTrail{url: url, exchange: exchange, logger: logger}, nil
}

func (t *AMQPTrail) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.logger.ErrorContext(ctx, "audit event marshal failed", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := t.publish(pubCtx, event.Action, body); err != nil {
		t.logger.WarnContext(ctx, "audit event publish failed",
			"action", event.Action, "error", err)
	}
}

func (t *AMQPTrail) publish(ctx context.Context, routingKey string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureChannel(); err != nil {
		return err
	}
	err := t.channel.PublishWithContext(ctx, t.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		t.closeLocked()
	}
	return err
}

func (t *AMQPTrail) ensureChannel() error {
	if t.channel != nil && !t.channel.IsClosed() {
		return nil
	}
	t.closeLocked()
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := channel.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return err
	}
	t.conn = conn
	t.channel = channel
	return nil
}

func (t *AMQPTrail) closeLocked() {
	if t.channel != nil {
		_ = t.channel.Close()
		t.channel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}

// Close releases the broker connection.
func (t *AMQPTrail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}
