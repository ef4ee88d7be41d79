// Package suggestionrepo persists ingestion.SuggestedQuestion sets, grounded
// on the teacher's userrepo package shape and uploadask/repo's
// replace-on-write idiom for derived, regenerable data.
package suggestionrepo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduask/backend/internal/domain/ingestion"
)

// MemoryRepository is an in-memory ingestion.SuggestedQuestionsRepository.
type MemoryRepository struct {
	mu   sync.Mutex
	byID map[uuid.UUID][]ingestion.SuggestedQuestion
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID][]ingestion.SuggestedQuestion)}
}

func (r *MemoryRepository) Replace(_ context.Context, documentID uuid.UUID, questions []ingestion.SuggestedQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[documentID] = append([]ingestion.SuggestedQuestion(nil), questions...)
	return nil
}

// List returns the current suggested-question set for documentID, used by
// the HTTP layer when rendering a document's detail view.
func (r *MemoryRepository) List(_ context.Context, documentID uuid.UUID) []ingestion.SuggestedQuestion {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ingestion.SuggestedQuestion(nil), r.byID[documentID]...)
}

var _ ingestion.SuggestedQuestionsRepository = (*MemoryRepository)(nil)

// PostgresRepository persists SuggestedQuestion rows.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Replace deletes and reinserts a document's suggested-question set inside
// one transaction, since the set is always regenerated wholesale (spec.md
// §4.7 step 8).
func (r *PostgresRepository) Replace(ctx context.Context, documentID uuid.UUID, questions []ingestion.SuggestedQuestion) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("suggestionrepo: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM eduask_suggested_questions WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("suggestionrepo: clear: %w", err)
	}
	for _, q := range questions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO eduask_suggested_questions (id, document_id, question, category, difficulty)
			VALUES ($1,$2,$3,$4,$5)
		`, q.ID, documentID, q.Question, q.Category, q.Difficulty); err != nil {
			return fmt.Errorf("suggestionrepo: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("suggestionrepo: commit: %w", err)
	}
	return nil
}

// List returns the current suggested-question set for documentID.
func (r *PostgresRepository) List(ctx context.Context, documentID uuid.UUID) ([]ingestion.SuggestedQuestion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, question, category, difficulty
		FROM eduask_suggested_questions WHERE document_id = $1
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("suggestionrepo: list: %w", err)
	}
	defer rows.Close()
	var out []ingestion.SuggestedQuestion
	for rows.Next() {
		var q ingestion.SuggestedQuestion
		if err := rows.Scan(&q.ID, &q.DocumentID, &q.Question, &q.Category, &q.Difficulty); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

var _ ingestion.SuggestedQuestionsRepository = (*PostgresRepository)(nil)
