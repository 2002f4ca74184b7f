package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"radish-rewards/internal/domain"
	"radish-rewards/internal/infra/metrics"
)

// RabbitPublisher publishes job events to a durable RabbitMQ queue through
// the default exchange.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitPublisher dials RabbitMQ and declares the queue.
func NewRabbitPublisher(amqpURL, queue string) (*RabbitPublisher, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

// Publish implements domain.EventPublisher.
func (p *RabbitPublisher) Publish(ctx context.Context, event domain.JobEvent) error {
	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.ch.Close(), p.conn.Close())
}

func encodeMessage(event domain.JobEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}, nil
}

var _ domain.EventPublisher = (*RabbitPublisher)(nil)
