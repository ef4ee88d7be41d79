// Package pubsub fans out document progress events to WebSocket subscribers
// via Valkey pub/sub, channel pattern "document:status:{document-id}" /
// "document:status:*" (spec.md §6). Generalized from the teacher's
// list-based queue primitive (internal/infra/uploadask/queue/valkey.go) onto
// Valkey's native PUBLISH/SUBSCRIBE commands, which is the idiomatic fit for
// fan-out (a list is a single-consumer queue, not a broadcast).
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/valkey-io/valkey-go"
)

const channelPrefix = "document:status:"

// ProgressEvent is the shape pushed to subscribers (spec.md §6).
type ProgressEvent struct {
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	ProcessedChunks int    `json:"processed_chunks"`
	TotalChunks     int    `json:"total_chunks"`
	Message         string `json:"message"`
}

// Publisher publishes progress events for one document.
type Publisher struct {
	client valkey.Client
	logger *slog.Logger
}

// NewPublisher constructs a Publisher.
func NewPublisher(client valkey.Client, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger.With("component", "infra.pubsub")}
}

func channelName(documentID string) string {
	return channelPrefix + documentID
}

// Publish sends event on the document's channel. Failure is logged and
// ignored: status is always reconstructible from the store (spec.md §4.8).
func (p *Publisher) Publish(ctx context.Context, documentID string, event ProgressEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("pubsub: encode event failed", "error", err)
		return
	}
	cmd := p.client.B().Publish().Channel(channelName(documentID)).Message(string(body)).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		p.logger.Warn("pubsub: publish failed", "document_id", documentID, "error", err)
	}
}

// Subscriber delivers progress events for one document to a channel of
// decoded events, for the WebSocket dispatcher to relay to a connection.
type Subscriber struct {
	client valkey.Client
	logger *slog.Logger
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(client valkey.Client, logger *slog.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger.With("component", "infra.pubsub.subscriber")}
}

// Subscribe blocks, relaying decoded events for documentID onto out until
// ctx is cancelled. The dedicated pub/sub client is closed on return.
func (s *Subscriber) Subscribe(ctx context.Context, documentID string, out chan<- ProgressEvent) error {
	dedicated, cancel := s.client.Dedicate()
	defer cancel()

	wait := dedicated.SetPubSubHooks(valkey.PubSubHooks{
		OnMessage: func(m valkey.PubSubMessage) {
			var event ProgressEvent
			if err := json.Unmarshal([]byte(m.Message), &event); err != nil {
				s.logger.Warn("pubsub: decode event failed", "error", err)
				return
			}
			select {
			case out <- event:
			case <-ctx.Done():
			}
		},
	})
	if err := dedicated.Do(ctx, dedicated.B().Subscribe().Channel(channelName(documentID)).Build()).Error(); err != nil {
		return fmt.Errorf("pubsub: subscribe: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-wait:
		return err
	}
}
