package rabbitmq

import (
	"context"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/ingestion"
)

// ChunkPublisherAdapter adapts Bus to ingestion.ChunkPublisher, translating
// the coordinator's bus-independent ChunkMessage (DocumentID as uuid.UUID)
// into the wire ChunkMessage declared in this package (DocumentID as string).
type ChunkPublisherAdapter struct {
	bus *Bus
}

// NewChunkPublisherAdapter constructs the adapter.
func NewChunkPublisherAdapter(bus *Bus) *ChunkPublisherAdapter {
	return &ChunkPublisherAdapter{bus: bus}
}

func (a *ChunkPublisherAdapter) Publish(ctx context.Context, msg ingestion.ChunkMessage) error {
	return a.bus.Publish(ctx, ChunkMessage{
		DocumentID: msg.DocumentID.String(),
		ChunkIndex: msg.ChunkIndex,
		Text:       msg.Text,
		TokenCount: msg.TokenCount,
		Metadata:   msg.Metadata,
	})
}

var _ ingestion.ChunkPublisher = (*ChunkPublisherAdapter)(nil)

// EmbedHandler adapts an embedworker.Service into a Handler, parsing the
// wire message's string document id back into the uuid.UUID
// embedworker.ChunkJob carries.
func EmbedHandler(svc *embedworker.Service) Handler {
	return func(ctx context.Context, msg ChunkMessage) error {
		docID, err := uuid.Parse(msg.DocumentID)
		if err != nil {
			return err
		}
		return svc.Process(ctx, embedworker.ChunkJob{
			DocumentID: docID,
			ChunkIndex: msg.ChunkIndex,
			Text:       msg.Text,
			TokenCount: msg.TokenCount,
			Metadata:   msg.Metadata,
		})
	}
}
