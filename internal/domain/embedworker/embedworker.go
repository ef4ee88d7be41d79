// Package embedworker implements C8: the embedding worker loop that
// consumes chunk jobs, embeds them, upserts into the vector index, and
// drives the document's processed-chunks/status transition, per spec.md
// §4.8. Exactly-once completion semantics under message re-delivery follow
// DESIGN.md Open Question #3's resolution: document.Repository's
// IncrementProcessedChunks performs the increment and the conditional
// `status <> completed` transition atomically, and the caller only
// publishes the final `completed` event when that call reports didComplete.
package embedworker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/vectorindex"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// ChunkJob is the decoded message-bus payload, independent of any concrete
// bus transport (spec.md §6 Message-bus payload).
type ChunkJob struct {
	DocumentID uuid.UUID
	ChunkIndex int
	Text       string
	TokenCount int
	Metadata   map[string]string
}

// Embedder produces an embedding for one piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProgressEvent mirrors the wire shape published to subscribers (spec.md §6).
type ProgressEvent struct {
	Status          string
	Progress        int
	ProcessedChunks int
	TotalChunks     int
	Message         string
}

// ProgressPublisher decouples the worker from any concrete pub/sub
// transport.
type ProgressPublisher interface {
	Publish(ctx context.Context, documentID string, event ProgressEvent)
}

const metadataTextLimit = 4000

// Service processes one chunk job at a time; safe for concurrent use by
// multiple consumer goroutines (spec.md §5 Worker pool — no cross-worker
// coordination required beyond the idempotent primitives it calls).
type Service struct {
	index     vectorindex.Index
	embedder  Embedder
	docs      document.Repository
	publisher ProgressPublisher
	logger    *slog.Logger
}

// New is a wire provider for the embedworker domain.
func New(index vectorindex.Index, embedder Embedder, docs document.Repository, publisher ProgressPublisher, logger *slog.Logger) *Service {
	return &Service{index: index, embedder: embedder, docs: docs, publisher: publisher, logger: logger.With("component", "embedworker.service")}
}

// Process implements spec.md §4.8 steps 1-5 for one chunk job. A returned
// error signals the caller (the bus consumer) to retry/DLQ the message;
// processed-chunks is guaranteed not to be incremented on failure paths
// before the vector upsert succeeds.
func (s *Service) Process(ctx context.Context, job ChunkJob) error {
	vector, err := s.embedder.Embed(ctx, job.Text)
	if err != nil {
		return apperrors.Wrap("external-service", "embedding failed", err)
	}

	metadata := make(map[string]string, len(job.Metadata)+2)
	for k, v := range job.Metadata {
		metadata[k] = v
	}
	metadata["chunk_index"] = fmt.Sprintf("%d", job.ChunkIndex)
	metadata["text"] = truncate(job.Text, metadataTextLimit)

	record := vectorindex.Record{
		VectorID: document.Chunk{DocumentID: job.DocumentID, ChunkIndex: job.ChunkIndex}.VectorID(),
		Metadata: metadata,
		Vector:   vector,
	}
	// Upsert MUST be idempotent under vector-id; re-delivery converges to
	// the same final state (spec.md §4.8 step 3).
	if err := s.index.Upsert(ctx, job.DocumentID.String(), []vectorindex.Record{record}); err != nil {
		return apperrors.Wrap("external-service", "vector upsert failed", err)
	}

	doc, didComplete, err := s.docs.IncrementProcessedChunks(ctx, job.DocumentID, job.ChunkIndex)
	if err != nil {
		return apperrors.Wrap("internal", "processed-chunks increment failed", err)
	}

	if doc.ProcessedChunks%5 == 0 || doc.ProcessedChunks == doc.TotalChunks {
		s.publisher.Publish(ctx, job.DocumentID.String(), ProgressEvent{
			Status:          string(doc.Status),
			Progress:        percent(doc.ProcessedChunks, doc.TotalChunks),
			ProcessedChunks: doc.ProcessedChunks,
			TotalChunks:     doc.TotalChunks,
			Message:         fmt.Sprintf("processed %d of %d chunks", doc.ProcessedChunks, doc.TotalChunks),
		})
	}

	if didComplete {
		s.publisher.Publish(ctx, job.DocumentID.String(), ProgressEvent{
			Status:          string(document.StatusCompleted),
			Progress:        100,
			ProcessedChunks: doc.ProcessedChunks,
			TotalChunks:     doc.TotalChunks,
			Message:         "document fully processed",
		})
	}
	return nil
}

func percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return processed * 100 / total
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
