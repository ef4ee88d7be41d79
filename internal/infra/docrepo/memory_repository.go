// Package docrepo persists document.Document records and their upload
// history, grounded on the teacher's userrepo package pattern (a
// MemoryRepository and a PostgresRepository in one package) and on
// internal/infra/uploadask/repo's Postgres query idiom, generalized to
// document.Repository's dedup-by-hash and exactly-once completion
// requirements (spec.md §3, §4.7, §4.8).
package docrepo

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/document"
	apperrors "github.com/eduask/backend/pkg/errors"
	"github.com/eduask/backend/pkg/util"
)

// MemoryRepository is an in-memory document.Repository for tests/dev.
type MemoryRepository struct {
	mu           sync.RWMutex
	docs         map[uuid.UUID]document.Document
	hashIndex    map[string]uuid.UUID
	processedLog map[uuid.UUID]map[int]struct{}
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:         make(map[uuid.UUID]document.Document),
		hashIndex:    make(map[string]uuid.UUID),
		processedLog: make(map[uuid.UUID]map[int]struct{}),
	}
}

func (r *MemoryRepository) Create(_ context.Context, doc document.Document) (document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hashIndex[doc.ContentHash]; exists {
		return document.Document{}, apperrors.Wrap("conflict", "content hash already exists", nil)
	}
	r.docs[doc.ID] = doc
	r.hashIndex[doc.ContentHash] = doc.ID
	r.processedLog[doc.ID] = make(map[int]struct{})
	return doc, nil
}

func (r *MemoryRepository) FindByContentHash(_ context.Context, hash string) (document.Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.hashIndex[hash]
	if !ok {
		return document.Document{}, false, nil
	}
	return r.docs[id], true, nil
}

func (r *MemoryRepository) AppendUploadHistory(_ context.Context, documentID uuid.UUID, entry document.UploadHistoryEntry) (document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return document.Document{}, apperrors.Wrap("not-found", "document not found", nil)
	}
	doc.UploadHistory = append(doc.UploadHistory, entry)
	doc.UpdatedAt = util.NowUTC()
	r.docs[documentID] = doc
	return doc, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (document.Document, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	return doc, ok, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID int64, filter document.ListFilter) ([]document.Document, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []document.Document
	for _, doc := range r.docs {
		if doc.OwnerUserID != userID && !doc.UploadedBy(userID) {
			continue
		}
		if filter.Scope == "owned" && doc.OwnerUserID != userID {
			continue
		}
		matched = append(matched, doc)
	}
	total := len(matched)
	page, limit := filter.Page, filter.Limit
	if limit <= 0 {
		limit = total
	}
	start := page * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// ListCompletedByUploaderRole ignores role: this repository holds no user
// records, so it returns every completed document whatever its uploader's
// role.
func (r *MemoryRepository) ListCompletedByUploaderRole(_ context.Context, _ string) ([]document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []document.Document
	for _, doc := range r.docs {
		if doc.Status == document.StatusCompleted {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListOwnedAnyStatus(_ context.Context, userID int64) ([]document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []document.Document
	for _, doc := range r.docs {
		if doc.OwnerUserID == userID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListWithUserInHistory(_ context.Context, userID int64) ([]document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []document.Document
	for _, doc := range r.docs {
		if doc.UploadedBy(userID) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// IncrementProcessedChunks is deduped per chunk-index via processedLog, so
// message re-delivery of the same chunk never double-increments (mirrors the
// eduask_processed_chunks table used by the Postgres implementation).
func (r *MemoryRepository) IncrementProcessedChunks(_ context.Context, documentID uuid.UUID, chunkIndex int) (document.Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return document.Document{}, false, apperrors.Wrap("not-found", "document not found", nil)
	}
	seen := r.processedLog[documentID]
	if seen == nil {
		seen = make(map[int]struct{})
		r.processedLog[documentID] = seen
	}
	if _, already := seen[chunkIndex]; already {
		return doc, false, nil
	}
	seen[chunkIndex] = struct{}{}
	doc.ProcessedChunks++
	didComplete := false
	if doc.ProcessedChunks >= doc.TotalChunks && doc.Status != document.StatusCompleted {
		doc.Status = document.StatusCompleted
		didComplete = true
	}
	doc.UpdatedAt = util.NowUTC()
	r.docs[documentID] = doc
	return doc, didComplete, nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, documentID uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[documentID]
	if !ok {
		return apperrors.Wrap("not-found", "document not found", nil)
	}
	doc.Status = document.StatusFailed
	doc.FailureReason = reason
	doc.UpdatedAt = util.NowUTC()
	r.docs[documentID] = doc
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return false, nil
	}
	delete(r.docs, id)
	delete(r.hashIndex, doc.ContentHash)
	delete(r.processedLog, id)
	return true, nil
}

var _ document.Repository = (*MemoryRepository)(nil)
