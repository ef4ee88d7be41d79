// Package ingestion implements C7: the upload coordinator and deletion
// cascade, per spec.md §4.7. Dedup-by-content-hash and the upload-history
// append are grounded on the Document/Chunk model in
// internal/domain/document; the chunk-publish fan-out is grounded on the
// original rabbitmq_publisher.py's one-message-per-chunk design, here
// decoupled from any concrete bus via ChunkPublisher.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/questionlog"
	"github.com/eduask/backend/internal/infra/chunker"
	"github.com/eduask/backend/internal/infra/parser"
	apperrors "github.com/eduask/backend/pkg/errors"
	"github.com/eduask/backend/pkg/util"
)

// ChunkMessage is the bus-independent payload for one chunk job.
type ChunkMessage struct {
	DocumentID uuid.UUID
	ChunkIndex int
	Text       string
	TokenCount int
	Metadata   map[string]string
}

// ChunkPublisher fans out one message per chunk to the embed queue.
type ChunkPublisher interface {
	Publish(ctx context.Context, msg ChunkMessage) error
}

// ProgressEvent mirrors the wire shape published to subscribers.
type ProgressEvent struct {
	Status          string
	Progress        int
	ProcessedChunks int
	TotalChunks     int
	Message         string
}

// ProgressPublisher decouples the coordinator from any concrete transport.
type ProgressPublisher interface {
	Publish(ctx context.Context, documentID string, event ProgressEvent)
}

// VectorNamespaceDeleter is the narrow slice of vectorindex.Index the
// deletion cascade needs.
type VectorNamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// CacheDeleter removes frequency/cache entries for a document.
type CacheDeleter interface {
	DeleteDocument(ctx context.Context, documentID string) error
}

// UploadRequest is the coordinator's public upload() input (spec.md §4.7).
type UploadRequest struct {
	UserID     int64
	UserName   string
	UserRole   string
	Filename   string
	FileType   document.FileType
	Bytes      []byte
	Title      string
	Subject    string
	Tags       []string
	GradeLevel string
}

// UploadResult is upload()'s public output.
type UploadResult struct {
	DocumentID  uuid.UUID
	TotalChunks int
	Status      document.Status
	IsDuplicate bool
	DuplicateOf uuid.UUID
}

// Config bounds ingestion behavior.
type Config struct {
	MaxFileSizeBytes int64
	Chunker          chunker.Config
}

// Coordinator implements upload() and the deletion cascade.
type Coordinator struct {
	docs        document.Repository
	storage     document.Storage
	chunks      *chunker.Chunker
	chunkBus    ChunkPublisher
	progress    ProgressPublisher
	index       VectorNamespaceDeleter
	cache       CacheDeleter
	questions   questionlog.Repository
	suggester   QuestionSuggester
	suggestions SuggestedQuestionsRepository
	cfg         Config
	logger      *slog.Logger
}

// New is a wire provider for the ingestion domain.
func New(
	docs document.Repository,
	storage document.Storage,
	chunkBus ChunkPublisher,
	progress ProgressPublisher,
	index VectorNamespaceDeleter,
	cacheStore CacheDeleter,
	questions questionlog.Repository,
	suggester QuestionSuggester,
	suggestions SuggestedQuestionsRepository,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		docs:        docs,
		storage:     storage,
		chunks:      chunker.New(cfg.Chunker),
		chunkBus:    chunkBus,
		progress:    progress,
		index:       index,
		cache:       cacheStore,
		questions:   questions,
		suggester:   suggester,
		suggestions: suggestions,
		cfg:         cfg,
		logger:      logger.With("component", "ingestion.coordinator"),
	}
}

// Upload implements spec.md §4.7 steps 1-8.
func (c *Coordinator) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if !validFileType(req.FileType) {
		return UploadResult{}, apperrors.Wrap("file-validation", "unsupported file type", nil)
	}
	if c.cfg.MaxFileSizeBytes > 0 && int64(len(req.Bytes)) > c.cfg.MaxFileSizeBytes {
		return UploadResult{}, apperrors.Wrap("file-validation", "file exceeds maximum size", nil)
	}

	parsed, err := parser.Parse(req.FileType, req.Bytes)
	if err != nil {
		return UploadResult{}, err
	}

	hash := util.ContentHash(parsed.Content)

	existing, found, err := c.docs.FindByContentHash(ctx, hash)
	if err != nil {
		return UploadResult{}, apperrors.Wrap("internal", "content-hash lookup failed", err)
	}
	if found {
		// Step 4: atomic append, no re-chunk/publish/embed.
		updated, err := c.docs.AppendUploadHistory(ctx, existing.ID, document.UploadHistoryEntry{
			UserID:    req.UserID,
			UserName:  req.UserName,
			Filename:  req.Filename,
			Timestamp: util.NowUTC(),
		})
		if err != nil {
			return UploadResult{}, apperrors.Wrap("internal", "upload-history append failed", err)
		}
		return UploadResult{
			DocumentID:  updated.ID,
			TotalChunks: updated.TotalChunks,
			Status:      updated.Status,
			IsDuplicate: true,
			DuplicateOf: updated.ID,
		}, nil
	}

	title := req.Title
	if title == "" {
		title = parsed.Title
	}

	documentID := uuid.New()
	headings := make([]parser.Heading, len(parsed.Structure))
	copy(headings, parsed.Structure)
	chunks := c.chunks.Chunk(documentID, title, parsed.Content, headings)

	storageKey := fmt.Sprintf("documents/%s/%s", documentID, req.Filename)
	if c.storage != nil {
		if err := c.storage.Put(ctx, storageKey, req.Bytes, contentTypeFor(req.FileType)); err != nil {
			return UploadResult{}, apperrors.Wrap("internal", "raw file storage failed", err)
		}
	}

	now := util.NowUTC()
	newDoc := document.Document{
		ID:               documentID,
		OwnerUserID:      req.UserID,
		OriginalUploader: req.UserID,
		Filename:         req.Filename,
		FileType:         req.FileType,
		ContentHash:      hash,
		TotalChunks:      len(chunks),
		ProcessedChunks:  0,
		Metadata: document.Metadata{
			Title:        title,
			Subject:      req.Subject,
			UploaderName: req.UserName,
			PageCount:    parsed.PageCount,
			FileSizeByte: int64(len(req.Bytes)),
			Tags:         req.Tags,
		},
		UploadHistory: []document.UploadHistoryEntry{{
			UserID:    req.UserID,
			UserName:  req.UserName,
			Filename:  req.Filename,
			Timestamp: now,
		}},
		StorageKey: storageKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Empty document: zero chunks, completed immediately (spec.md §4.6
	// edge case / §8 Boundary behaviors).
	if len(chunks) == 0 {
		newDoc.Status = document.StatusCompleted
	} else {
		newDoc.Status = document.StatusProcessing
	}

	created, err := c.docs.Create(ctx, newDoc)
	if err != nil {
		return UploadResult{}, apperrors.Wrap("internal", "document persist failed", err)
	}

	for _, chunk := range chunks {
		msg := ChunkMessage{
			DocumentID: created.ID,
			ChunkIndex: chunk.ChunkIndex,
			Text:       chunk.ContextualizedText,
			TokenCount: chunk.TokenCount,
			Metadata: map[string]string{
				"section_title":     chunk.SectionTitle,
				"chunking_strategy": chunk.ChunkingStrategy,
				"document_title":    title,
				"uploader_name":     req.UserName,
				"uploader_id":       fmt.Sprintf("%d", req.UserID),
				"upload_date":       now.Format(time.RFC3339),
				"subject":           req.Subject,
			},
		}
		if err := c.chunkBus.Publish(ctx, msg); err != nil {
			c.logger.Error("chunk publish failed", "document_id", created.ID, "chunk_index", chunk.ChunkIndex, "error", err)
			return UploadResult{}, apperrors.Wrap("queue", "failed to publish chunk job", err)
		}
	}

	c.progress.Publish(ctx, created.ID.String(), ProgressEvent{
		Status:      string(created.Status),
		Message:     "upload accepted, processing started",
		TotalChunks: created.TotalChunks,
	})

	go c.generateSuggestedQuestions(context.Background(), created)

	return UploadResult{
		DocumentID:  created.ID,
		TotalChunks: created.TotalChunks,
		Status:      created.Status,
		IsDuplicate: false,
	}, nil
}

func validFileType(ft document.FileType) bool {
	switch ft {
	case document.FileTypePDF, document.FileTypeTXT, document.FileTypeMD:
		return true
	default:
		return false
	}
}

func contentTypeFor(ft document.FileType) string {
	switch ft {
	case document.FileTypePDF:
		return "application/pdf"
	case document.FileTypeMD:
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// DeleteResult reports best-effort cleanup outcomes (spec.md §4.7 Deletion).
type DeleteResult struct {
	VectorNamespaceRemoved bool
	CacheEntriesRemoved    bool
	FileBytesRemoved       bool
	QuestionLogRemoved     bool
	DocumentRecordRemoved  bool
	Errors                 []string
}

// Delete implements the deletion cascade. Caller authorization (owner,
// teacher, or in upload-history) is checked by the caller before invoking
// this — see internal/interface/http for the authorization gate.
func (c *Coordinator) Delete(ctx context.Context, documentID uuid.UUID) (DeleteResult, error) {
	doc, found, err := c.docs.Get(ctx, documentID)
	if err != nil {
		return DeleteResult{}, err
	}
	if !found {
		// Idempotent: second delete is a success no-op (spec.md §8).
		return DeleteResult{DocumentRecordRemoved: false}, nil
	}

	var result DeleteResult
	idStr := documentID.String()

	if err := c.index.DeleteNamespace(ctx, idStr); err != nil {
		result.Errors = append(result.Errors, "vector namespace: "+err.Error())
	} else {
		result.VectorNamespaceRemoved = true
	}

	if err := c.cache.DeleteDocument(ctx, idStr); err != nil {
		result.Errors = append(result.Errors, "cache: "+err.Error())
	} else {
		result.CacheEntriesRemoved = true
	}

	if doc.StorageKey != "" && c.storage != nil {
		if err := c.storage.Delete(ctx, doc.StorageKey); err != nil {
			result.Errors = append(result.Errors, "storage: "+err.Error())
		} else {
			result.FileBytesRemoved = true
		}
	} else {
		result.FileBytesRemoved = true
	}

	if err := c.questions.DeleteByDocument(ctx, documentID); err != nil {
		result.Errors = append(result.Errors, "question-log: "+err.Error())
	} else {
		result.QuestionLogRemoved = true
	}

	if _, err := c.docs.Delete(ctx, documentID); err != nil {
		result.Errors = append(result.Errors, "document record: "+err.Error())
	} else {
		result.DocumentRecordRemoved = true
	}

	return result, nil
}
