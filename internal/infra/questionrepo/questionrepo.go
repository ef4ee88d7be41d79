// Package questionrepo persists questionlog.Entry records, grounded on the
// teacher's userrepo package shape (one package holding both a memory and a
// Postgres implementation) and uploadask/repo's query-log table.
package questionrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduask/backend/internal/domain/questionlog"
)

// MemoryRepository is an in-memory questionlog.Repository for tests/dev.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []questionlog.Entry
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Append(_ context.Context, e questionlog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepository) DeleteByDocument(_ context.Context, documentID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.DocumentID != nil && *e.DocumentID == documentID {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return nil
}

var _ questionlog.Repository = (*MemoryRepository)(nil)

// PostgresRepository persists questionlog.Entry rows. Grounded on the
// teacher's uploadask/repo PostgresQueryLogRepository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Append(ctx context.Context, e questionlog.Entry) error {
	searched, err := json.Marshal(e.SearchedDocumentIDs)
	if err != nil {
		return fmt.Errorf("questionrepo: marshal searched ids: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO eduask_question_log (
			id, document_id, session_id, asker_user_id, question_text, answer_text,
			duration_ms, tokens_used, cached, classified_type, classification_score,
			is_global, searched_document_ids, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
	`, e.ID, e.DocumentID, e.SessionID, e.AskerUserID, e.QuestionText, e.AnswerText,
		e.Duration.Milliseconds(), e.TokensUsed, e.Cached, e.ClassifiedType, e.ClassificationScore,
		e.IsGlobal, searched)
	if err != nil {
		return fmt.Errorf("questionrepo: append: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM eduask_question_log WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("questionrepo: delete by document: %w", err)
	}
	return nil
}

var _ questionlog.Repository = (*PostgresRepository)(nil)
