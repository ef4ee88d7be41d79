// Package rabbitmq implements C3's durable at-least-once chunk-processing
// bus: direct exchange "document_processing", queue "chunks.processing",
// routing key "chunk", with a companion "chunks.failed" dead-letter queue
// (spec.md §6 Message-bus payload). Naming is grounded on the original
// services/document-processor rabbitmq_publisher.py; the Go transport uses
// github.com/rabbitmq/amqp091-go, the maintained successor to streadway/amqp
// that the rest of the Go ecosystem (including the other example repos'
// messaging stacks) has standardized on.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "document_processing"
	queueName    = "chunks.processing"
	dlqExchange  = "document_processing.dlx"
	dlqName      = "chunks.failed"
	routingKey   = "chunk"
)

// ChunkMessage is the wire payload for one chunk embedding job (spec.md §6).
type ChunkMessage struct {
	DocumentID string            `json:"document_id"`
	ChunkIndex int               `json:"chunk_index"`
	Text       string            `json:"text"`
	TokenCount int               `json:"token_count"`
	Metadata   map[string]string `json:"metadata"`
}

// Config holds connection parameters.
type Config struct {
	URL      string
	Prefetch int
}

// Bus is the publisher+consumer pair over one durable topology.
type Bus struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
}

// New dials RabbitMQ and declares the exchange/queue/DLQ topology.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(dlqExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare dlx: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare dlq: %w", err)
	}
	if err := ch.QueueBind(dlqName, routingKey, dlqExchange, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: bind dlq: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlqExchange,
		"x-dead-letter-routing-key": routingKey,
	}); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		return nil, fmt.Errorf("rabbitmq: bind queue: %w", err)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("rabbitmq: set qos: %w", err)
	}

	return &Bus{conn: conn, ch: ch, logger: logger.With("component", "infra.rabbitmq")}, nil
}

// Close shuts down the channel and connection in order.
func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

// Publish sends one chunk job, durable and persisted.
func (b *Bus) Publish(ctx context.Context, msg ChunkMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode message: %w", err)
	}
	return b.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Handler processes one chunk job; a returned error triggers retry/DLQ.
type Handler func(ctx context.Context, msg ChunkMessage) error

const (
	maxAttempts = 3
	baseBackoff = 200 * time.Millisecond
)

// Consume drains the queue until ctx is cancelled, retrying each message up
// to maxAttempts times with exponential backoff before routing it to the
// dead-letter queue via Nack(requeue=false) (spec.md §4.8 step 1).
func (b *Bus) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := b.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			b.handleDelivery(ctx, d, handler)
		}
	}
}

func (b *Bus) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg ChunkMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		b.logger.Error("rabbitmq: malformed message, routing to dlq", "error", err)
		_ = d.Nack(false, false)
		return
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(baseBackoff * time.Duration(1<<uint(attempt-1)))
		}
		if err := handler(ctx, msg); err != nil {
			lastErr = err
			continue
		}
		_ = d.Ack(false)
		return
	}
	b.logger.Error("rabbitmq: message failed after retries, routing to dlq",
		"document_id", msg.DocumentID, "chunk_index", msg.ChunkIndex, "error", lastErr)
	_ = d.Nack(false, false)
}
