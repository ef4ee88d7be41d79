package document

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Status tracks ingestion pipeline progress, per spec.md §3.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// FileType is the declared document format; spec.md §1 lists exactly these.
type FileType string

const (
	FileTypePDF FileType = "pdf"
	FileTypeTXT FileType = "txt"
	FileTypeMD  FileType = "md"
)

// UploadHistoryEntry records one upload event against a logical document,
// keyed by content-hash. A duplicate upload appends here instead of creating
// a new document (spec.md §4.7 step 4).
type UploadHistoryEntry struct {
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata is the freeform descriptive payload carried alongside a document.
type Metadata struct {
	Title        string   `json:"title"`
	Subject      string   `json:"subject,omitempty"`
	UploaderName string   `json:"uploader_name"`
	PageCount    int      `json:"page_count,omitempty"`
	FileSizeByte int64    `json:"file_size_bytes"`
	Tags         []string `json:"tags,omitempty"`
}

// Document is the persisted unit of ingestion. Invariants (spec.md §3):
// 0 <= ProcessedChunks <= TotalChunks; Status == StatusCompleted iff
// ProcessedChunks == TotalChunks (checked immediately after the increment
// that reaches TotalChunks); ContentHash uniquely identifies the logical
// document.
type Document struct {
	ID                uuid.UUID            `json:"id"`
	OwnerUserID       int64                `json:"owner_user_id"`
	OriginalUploader  int64                `json:"original_uploader_id"`
	Filename          string               `json:"filename"`
	FileType          FileType             `json:"file_type"`
	ContentHash       string               `json:"content_hash"`
	Status            Status               `json:"status"`
	FailureReason     string               `json:"failure_reason,omitempty"`
	TotalChunks       int                  `json:"total_chunks"`
	ProcessedChunks   int                  `json:"processed_chunks"`
	UploadHistory     []UploadHistoryEntry `json:"upload_history"`
	Metadata          Metadata             `json:"metadata"`
	StorageKey        string               `json:"storage_key"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// UploadedBy reports whether this document's upload history already
// contains an entry for userID.
func (d Document) UploadedBy(userID int64) bool {
	for _, h := range d.UploadHistory {
		if h.UserID == userID {
			return true
		}
	}
	return false
}

// Chunk is the transient unit produced by the chunker and consumed by the
// embedding worker; it never persists on its own (spec.md §3).
type Chunk struct {
	DocumentID         uuid.UUID
	ChunkIndex         int
	Text               string
	ContextualizedText string
	TokenCount         int
	SectionTitle       string
	ChunkingStrategy   string
	// Metadata copied in from the parent document for convenience at
	// embedding/retrieval time.
	DocumentTitle string
	UploaderName  string
	UploaderID    int64
	UploadDate    time.Time
	Subject       string
	Tags          []string
}

// VectorID is the deterministic vector-index identity for a chunk:
// "{document-id}_{chunk-index}" (spec.md §3), which is what makes the
// embedding worker's upsert idempotent under message re-delivery.
func (c Chunk) VectorID() string {
	return c.DocumentID.String() + "_" + strconv.Itoa(c.ChunkIndex)
}
