package pubsub

import (
	"context"

	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/ingestion"
)

// IngestionProgressPublisher adapts Publisher to ingestion.ProgressPublisher.
// ingestion.ProgressEvent and ProgressEvent are structurally identical, kept
// as distinct named types so neither package depends on the other's wire
// shape directly (mirrors interface/ws.PubSubSubscriber on the consuming
// side).
type IngestionProgressPublisher struct {
	inner *Publisher
}

// NewIngestionProgressPublisher constructs the adapter.
func NewIngestionProgressPublisher(inner *Publisher) *IngestionProgressPublisher {
	return &IngestionProgressPublisher{inner: inner}
}

func (a *IngestionProgressPublisher) Publish(ctx context.Context, documentID string, event ingestion.ProgressEvent) {
	a.inner.Publish(ctx, documentID, ProgressEvent(event))
}

var _ ingestion.ProgressPublisher = (*IngestionProgressPublisher)(nil)

// EmbedWorkerProgressPublisher adapts Publisher to
// embedworker.ProgressPublisher.
type EmbedWorkerProgressPublisher struct {
	inner *Publisher
}

// NewEmbedWorkerProgressPublisher constructs the adapter.
func NewEmbedWorkerProgressPublisher(inner *Publisher) *EmbedWorkerProgressPublisher {
	return &EmbedWorkerProgressPublisher{inner: inner}
}

func (a *EmbedWorkerProgressPublisher) Publish(ctx context.Context, documentID string, event embedworker.ProgressEvent) {
	a.inner.Publish(ctx, documentID, ProgressEvent(event))
}

var _ embedworker.ProgressPublisher = (*EmbedWorkerProgressPublisher)(nil)
