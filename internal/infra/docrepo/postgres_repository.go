package docrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduask/backend/internal/domain/document"
	apperrors "github.com/eduask/backend/pkg/errors"
)

// PostgresRepository persists Document records in Postgres. Grounded on the
// teacher's uploadask/repo PostgresDocumentRepository query-building idiom
// (plain SQL, $N positional args, RETURNING) and userrepo's
// scan/isDuplicateError helpers, generalized to document.Repository's
// content-hash dedup and exactly-once-completion requirements.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository. Callers must first run the
// eduask_documents/eduask_upload_history/eduask_processed_chunks migration.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, doc document.Document) (document.Document, error) {
	tags, err := json.Marshal(doc.Metadata.Tags)
	if err != nil {
		return document.Document{}, fmt.Errorf("docrepo: marshal tags: %w", err)
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO eduask_documents (
			id, owner_user_id, original_uploader_id, filename, file_type, content_hash,
			status, total_chunks, processed_chunks, title, subject, uploader_name,
			page_count, file_size_bytes, tags, storage_key, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now(),now())
		RETURNING created_at, updated_at
	`, doc.ID, doc.OwnerUserID, doc.OriginalUploader, doc.Filename, doc.FileType, doc.ContentHash,
		doc.Status, doc.TotalChunks, doc.ProcessedChunks, doc.Metadata.Title, doc.Metadata.Subject,
		doc.Metadata.UploaderName, doc.Metadata.PageCount, doc.Metadata.FileSizeByte, tags, doc.StorageKey)

	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if isDuplicateError(err) {
			return document.Document{}, apperrors.Wrap("conflict", "content hash already exists", err)
		}
		return document.Document{}, fmt.Errorf("docrepo: create: %w", err)
	}
	return doc, nil
}

func (r *PostgresRepository) FindByContentHash(ctx context.Context, hash string) (document.Document, bool, error) {
	return r.queryOne(ctx, "WHERE content_hash = $1", hash)
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (document.Document, bool, error) {
	return r.queryOne(ctx, "WHERE id = $1", id)
}

func (r *PostgresRepository) AppendUploadHistory(ctx context.Context, documentID uuid.UUID, entry document.UploadHistoryEntry) (document.Document, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return document.Document{}, fmt.Errorf("docrepo: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO eduask_upload_history (document_id, user_id, user_name, filename, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, documentID, entry.UserID, entry.UserName, entry.Filename, entry.Timestamp); err != nil {
		return document.Document{}, fmt.Errorf("docrepo: append history: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE eduask_documents SET updated_at = now() WHERE id = $1`, documentID); err != nil {
		return document.Document{}, fmt.Errorf("docrepo: touch document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return document.Document{}, fmt.Errorf("docrepo: commit: %w", err)
	}

	doc, found, err := r.Get(ctx, documentID)
	if err != nil {
		return document.Document{}, err
	}
	if !found {
		return document.Document{}, apperrors.Wrap("not-found", "document not found", nil)
	}
	return doc, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64, filter document.ListFilter) ([]document.Document, int, error) {
	query := `
		SELECT DISTINCT d.id FROM eduask_documents d
		LEFT JOIN eduask_upload_history h ON h.document_id = d.id
		WHERE (d.owner_user_id = $1 OR h.user_id = $1)
	`
	args := []any{userID}
	argPos := 2
	if filter.Scope == "owned" {
		query += " AND d.owner_user_id = $1"
	}
	if filter.Search != "" {
		query += " AND d.title ILIKE $" + strconv.Itoa(argPos)
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}
	if len(filter.Subjects) > 0 {
		query += " AND d.subject = ANY($" + strconv.Itoa(argPos) + ")"
		args = append(args, filter.Subjects)
		argPos++
	}
	query += " ORDER BY d.id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("docrepo: list by user: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	total := len(ids)
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

	var out []document.Document
	for _, id := range ids[start:end] {
		doc, found, err := r.Get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if found {
			out = append(out, doc)
		}
	}
	return out, total, nil
}

func (r *PostgresRepository) ListCompletedByUploaderRole(ctx context.Context, role string) ([]document.Document, error) {
	return r.queryMany(ctx, `
		SELECT DISTINCT d.id FROM eduask_documents d
		JOIN eduask_upload_history h ON h.document_id = d.id
		JOIN users u ON u.id = h.user_id
		WHERE d.status = 'completed' AND u.role = $1
	`, role)
}

func (r *PostgresRepository) ListOwnedAnyStatus(ctx context.Context, userID int64) ([]document.Document, error) {
	return r.queryMany(ctx, `SELECT id FROM eduask_documents WHERE owner_user_id = $1`, userID)
}

func (r *PostgresRepository) ListWithUserInHistory(ctx context.Context, userID int64) ([]document.Document, error) {
	return r.queryMany(ctx, `
		SELECT DISTINCT d.id FROM eduask_documents d
		JOIN eduask_upload_history h ON h.document_id = d.id
		WHERE h.user_id = $1
	`, userID)
}

// IncrementProcessedChunks relies on eduask_processed_chunks' unique
// (document_id, chunk_index) constraint to dedup redelivered chunk messages,
// and on a single UPDATE ... RETURNING to make the completion transition
// atomic (spec.md §4.8 step 5).
func (r *PostgresRepository) IncrementProcessedChunks(ctx context.Context, documentID uuid.UUID, chunkIndex int) (document.Document, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO eduask_processed_chunks (document_id, chunk_index)
		VALUES ($1, $2)
		ON CONFLICT (document_id, chunk_index) DO NOTHING
	`, documentID, chunkIndex)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: record chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		doc, found, err := r.getTx(ctx, tx, documentID)
		if err != nil || !found {
			return doc, false, err
		}
		return doc, false, tx.Commit(ctx)
	}

	var processed, total int
	var status document.Status
	row := tx.QueryRow(ctx, `
		UPDATE eduask_documents
		SET processed_chunks = processed_chunks + 1,
		    status = CASE WHEN processed_chunks + 1 >= total_chunks THEN 'completed' ELSE status END,
		    updated_at = now()
		WHERE id = $1
		RETURNING processed_chunks, total_chunks, status
	`, documentID)
	if err := row.Scan(&processed, &total, &status); err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: increment: %w", err)
	}
	didComplete := processed >= total && status == document.StatusCompleted

	doc, found, err := r.getTx(ctx, tx, documentID)
	if err != nil {
		return document.Document{}, false, err
	}
	if !found {
		return document.Document{}, false, apperrors.Wrap("not-found", "document not found", nil)
	}
	if err := tx.Commit(ctx); err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: commit: %w", err)
	}
	return doc, didComplete, nil
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, documentID uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE eduask_documents SET status = 'failed', failure_reason = $2, updated_at = now()
		WHERE id = $1
	`, documentID, reason)
	if err != nil {
		return fmt.Errorf("docrepo: mark failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM eduask_documents WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("docrepo: delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, query string, args ...any) ([]document.Document, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docrepo: query: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []document.Document
	for _, id := range ids {
		doc, found, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, where string, args ...any) (document.Document, bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_user_id, original_uploader_id, filename, file_type, content_hash,
		       status, coalesce(failure_reason, ''), total_chunks, processed_chunks,
		       title, coalesce(subject, ''), uploader_name, page_count, file_size_bytes,
		       tags, storage_key, created_at, updated_at
		FROM eduask_documents `+where+` LIMIT 1
	`, args...)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: query one: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return document.Document{}, false, rows.Err()
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return document.Document{}, false, err
	}
	doc.UploadHistory, err = r.loadHistory(ctx, doc.ID)
	if err != nil {
		return document.Document{}, false, err
	}
	return doc, true, rows.Err()
}

func (r *PostgresRepository) getTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (document.Document, bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, owner_user_id, original_uploader_id, filename, file_type, content_hash,
		       status, coalesce(failure_reason, ''), total_chunks, processed_chunks,
		       title, coalesce(subject, ''), uploader_name, page_count, file_size_bytes,
		       tags, storage_key, created_at, updated_at
		FROM eduask_documents WHERE id = $1 LIMIT 1
	`, id)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("docrepo: get tx: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return document.Document{}, false, rows.Err()
	}
	doc, err := scanDocument(rows)
	if err != nil {
		return document.Document{}, false, err
	}
	doc.UploadHistory, err = r.loadHistory(ctx, doc.ID)
	return doc, true, err
}

func (r *PostgresRepository) loadHistory(ctx context.Context, documentID uuid.UUID) ([]document.UploadHistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, user_name, filename, uploaded_at
		FROM eduask_upload_history WHERE document_id = $1 ORDER BY uploaded_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("docrepo: load history: %w", err)
	}
	defer rows.Close()
	var out []document.UploadHistoryEntry
	for rows.Next() {
		var entry document.UploadHistoryEntry
		var ts time.Time
		if err := rows.Scan(&entry.UserID, &entry.UserName, &entry.Filename, &ts); err != nil {
			return nil, err
		}
		entry.Timestamp = ts.UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (document.Document, error) {
	var doc document.Document
	var tagsRaw []byte
	var created, updated time.Time
	if err := row.Scan(
		&doc.ID, &doc.OwnerUserID, &doc.OriginalUploader, &doc.Filename, &doc.FileType, &doc.ContentHash,
		&doc.Status, &doc.FailureReason, &doc.TotalChunks, &doc.ProcessedChunks,
		&doc.Metadata.Title, &doc.Metadata.Subject, &doc.Metadata.UploaderName, &doc.Metadata.PageCount,
		&doc.Metadata.FileSizeByte, &tagsRaw, &doc.StorageKey, &created, &updated,
	); err != nil {
		return document.Document{}, fmt.Errorf("docrepo: scan: %w", err)
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &doc.Metadata.Tags); err != nil {
			return document.Document{}, fmt.Errorf("docrepo: unmarshal tags: %w", err)
		}
	}
	doc.CreatedAt = created.UTC()
	doc.UpdatedAt = updated.UTC()
	return doc, nil
}

var _ document.Repository = (*PostgresRepository)(nil)

func isDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate")
}
