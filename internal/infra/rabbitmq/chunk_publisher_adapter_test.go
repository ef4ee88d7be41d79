package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/embedworker"
	"github.com/eduask/backend/internal/domain/vectorindex"
	"github.com/eduask/backend/internal/infra/docrepo"
)

type stubEmbedder struct {
	vector []float32
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vector, nil
}

type capturingProgressPublisher struct {
	events []embedworker.ProgressEvent
}

func (c *capturingProgressPublisher) Publish(_ context.Context, _ string, event embedworker.ProgressEvent) {
	c.events = append(c.events, event)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmbedHandler_ParsesValidDocumentID(t *testing.T) {
	docs := docrepo.NewMemoryRepository()
	docID := uuid.New()
	_, err := docs.Create(context.Background(), document.Document{
		ID:          docID,
		TotalChunks: 1,
		Status:      document.StatusProcessing,
	})
	require.NoError(t, err)

	publisher := &capturingProgressPublisher{}
	svc := embedworker.New(vectorindex.NewMemoryIndex(), &stubEmbedder{vector: []float32{0.1, 0.2}}, docs, publisher, newTestLogger())

	handler := EmbedHandler(svc)
	err = handler(context.Background(), ChunkMessage{
		DocumentID: docID.String(),
		ChunkIndex: 0,
		Text:       "hello",
		TokenCount: 1,
	})
	require.NoError(t, err)
	require.Len(t, publisher.events, 2)
	require.Equal(t, "completed", publisher.events[1].Status)
}

func TestEmbedHandler_RejectsMalformedDocumentID(t *testing.T) {
	docs := docrepo.NewMemoryRepository()
	publisher := &capturingProgressPublisher{}
	svc := embedworker.New(vectorindex.NewMemoryIndex(), &stubEmbedder{}, docs, publisher, newTestLogger())

	handler := EmbedHandler(svc)
	err := handler(context.Background(), ChunkMessage{DocumentID: "not-a-uuid"})
	require.Error(t, err)
	require.Empty(t, publisher.events)
}
