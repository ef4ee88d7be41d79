package document

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows ListByUser results.
type ListFilter struct {
	// Scope selects among all/owned/shared, mirroring the HTTP `filter` query
	// parameter (spec.md §6 GET /content/user/{id}).
	Scope    string
	Search   string
	Subjects []string
	Tags     []string
	Page     int
	Limit    int
}

// Repository persists Document records and their upload history. Grounded on
// the teacher's PostgresDocumentRepository/PostgresFileRepository pair,
// generalized to cover the dedup-by-hash and upload-history requirements
// spec.md §3-4.7 add.
type Repository interface {
	// Create persists a brand-new document (no prior content-hash match).
	Create(ctx context.Context, doc Document) (Document, error)

	// FindByContentHash looks up an existing logical document by its
	// normalized content hash, for dedup at upload time.
	FindByContentHash(ctx context.Context, hash string) (Document, bool, error)

	// AppendUploadHistory atomically appends an upload-history entry to an
	// existing document (spec.md §4.7 step 4's atomicity requirement: two
	// concurrent uploads of identical content must serialize to one append
	// each, never a double chunker run).
	AppendUploadHistory(ctx context.Context, documentID uuid.UUID, entry UploadHistoryEntry) (Document, error)

	// Get fetches a single document by id.
	Get(ctx context.Context, id uuid.UUID) (Document, bool, error)

	// ListByUser returns documents visible to userID under filter (raw
	// listing, not an access-control decision — see domain/access for that).
	ListByUser(ctx context.Context, userID int64, filter ListFilter) ([]Document, int, error)

	// ListCompletedByUploaderRole returns every completed document uploaded
	// by a user with the given role; used by the access resolver (spec.md
	// §4.9) to compute the student-visible teacher corpus.
	ListCompletedByUploaderRole(ctx context.Context, role string) ([]Document, error)

	// ListOwnedAnyStatus returns every document owned by userID regardless
	// of status; used by the teacher branch of the access resolver.
	ListOwnedAnyStatus(ctx context.Context, userID int64) ([]Document, error)

	// ListWithUserInHistory returns every document where userID appears in
	// upload_history, any status; used by the student branch of the access
	// resolver.
	ListWithUserInHistory(ctx context.Context, userID int64) ([]Document, error)

	// IncrementProcessedChunks atomically increments processed_chunks by one
	// and, if the new value equals total_chunks and status is not already
	// completed, transitions status to completed in the same statement
	// (spec.md §4.8 step 5, DESIGN.md Open Question #3). Returns the
	// post-increment document and whether this call caused the completion
	// transition (for exactly-once completed-event publication).
	IncrementProcessedChunks(ctx context.Context, documentID uuid.UUID, chunkIndex int) (doc Document, didComplete bool, err error)

	// MarkFailed transitions a document to failed with a reason.
	MarkFailed(ctx context.Context, documentID uuid.UUID, reason string) error

	// Delete removes the document record. Idempotent: deleting an unknown id
	// is a no-op returning found=false, never an error (spec.md §8 Idempotence).
	Delete(ctx context.Context, id uuid.UUID) (found bool, err error)
}

// Storage abstracts the object store holding raw uploaded bytes. Grounded on
// the teacher's ObjectStorage interface / R2Storage adapter.
type Storage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
