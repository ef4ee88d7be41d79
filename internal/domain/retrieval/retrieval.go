// Package retrieval implements C10: the per-document and global query
// flows, prompt-injection defense, frequency-gated caching, and question
// classification/logging, per spec.md §4.10. The injection pattern list is
// adopted near-verbatim from the original
// services/rag-query/security (shared/utils/security.py
// InputValidator.SUSPICIOUS_PATTERNS).
package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/access"
	"github.com/eduask/backend/internal/domain/composer"
	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/questionlog"
	"github.com/eduask/backend/internal/domain/vectorindex"
	apperrors "github.com/eduask/backend/pkg/errors"
)

const (
	maxQuestionLen = 500
	defaultTopK    = 5
	maxPerDoc      = 2
	maxTotal       = 8
)

// Embedder turns free text into a fixed-dimension vector. Capability
// interface per spec.md §9 design notes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is the frequency-gated answer cache (spec.md §3, §4.10).
type Cache interface {
	// BumpFrequency atomically increments the (doc, question) counter,
	// attaching a 24h TTL on the first increment, and returns the new count.
	BumpFrequency(ctx context.Context, documentID, question string) (int64, error)
	GetAnswer(ctx context.Context, documentID, question string) (string, bool, error)
	SaveAnswer(ctx context.Context, documentID, question, answer string, ttl time.Duration) error
	// DeleteDocument removes every frequency/cache key prefixed by documentID
	// (deletion cascade, spec.md §4.7).
	DeleteDocument(ctx context.Context, documentID string) error
}

// PopularQuestion is one row of spec.md §6 GET /query/{doc_id}/popular.
type PopularQuestion struct {
	Question  string
	Frequency int64
	IsCached  bool
}

// PopularityStore exposes the ranking needed by the popular-questions
// endpoint, on top of the same keyspace Cache manages.
type PopularityStore interface {
	TopQuestions(ctx context.Context, documentID string, limit, offset int) ([]PopularQuestion, error)
}

// Config bounds retrieval behavior (spec.md §4.10).
type Config struct {
	CacheThreshold int64
	CacheTTL       time.Duration
	TopK           int
}

// DefaultConfig matches spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{CacheThreshold: 5, CacheTTL: time.Hour, TopK: defaultTopK}
}

// QueryResult is the outcome of either flow. Answer holds the full text on a
// per-document cache hit and for global answers; a freshly generated
// per-document answer, and the notice fallbacks, arrive only through Stream
// with Answer empty. Stream is nil for global answers and for the global
// zero-chunk notice.
type QueryResult struct {
	Answer   string
	Sources  []composer.Source
	Cached   bool
	Stream   <-chan string
	Notice   string // set for the no-results / no-searchable-content fallbacks
}

// Service implements both query flows.
type Service struct {
	docs      document.Repository
	index     vectorindex.Index
	embedder  Embedder
	cache     Cache
	composer  composer.Service
	access    access.Resolver
	questions questionlog.Repository
	cfg       Config
	logger    *slog.Logger
}

// New is a wire provider for the retrieval domain.
func New(docs document.Repository, index vectorindex.Index, embedder Embedder, cache Cache, comp composer.Service, resolver access.Resolver, questions questionlog.Repository, cfg Config) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.CacheThreshold <= 0 {
		cfg.CacheThreshold = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{docs: docs, index: index, embedder: embedder, cache: cache, composer: comp, access: resolver, questions: questions, cfg: cfg}
}

// ValidateQuestion sanitizes and validates question text (spec.md §4.10
// step 1). It returns the scrubbed text or an AppError with code
// "validation"/"prompt-injection".
func ValidateQuestion(raw string) (string, error) {
	q := scrubNonPrintable(raw)
	q = strings.TrimSpace(q)
	if q == "" {
		return "", apperrors.Wrap("validation", "question cannot be empty", nil)
	}
	if len([]rune(q)) > maxQuestionLen {
		return "", apperrors.Wrap("validation", "question exceeds maximum length", nil)
	}
	if matchesInjectionPattern(q) {
		return "", apperrors.Wrap("prompt-injection", "question matches a disallowed pattern", nil)
	}
	return q, nil
}

func scrubNonPrintable(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// injectionPatterns mirrors shared/utils/security.py's
// InputValidator.SUSPICIOUS_PATTERNS grouping: instruction-override,
// system-prompt-exposure, role-manipulation, special-tokens, jailbreak, and
// encoding-bypass attempts.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|above|prior|all)\s+(instructions?|prompts?|commands?)`),
	regexp.MustCompile(`(?i)disregard\s+(previous|above|prior|all)\s+(instructions?|prompts?|commands?)`),
	regexp.MustCompile(`(?i)forget\s+(previous|above|prior|all)\s+(instructions?|prompts?|commands?)`),
	regexp.MustCompile(`(?i)new\s+(instructions?|prompts?|commands?)\s*:`),
	regexp.MustCompile(`(?i)system:?\s*(you\s+are|prompt|message)`),
	regexp.MustCompile(`(?i)show\s+(me\s+)?(your\s+)?(system\s+)?(prompt|instructions?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)`),
	regexp.MustCompile(`(?i)act\s+as\s+(a|an|if)`),
	regexp.MustCompile(`(?i)pretend\s+(you|to)`),
	regexp.MustCompile(`(?i)roleplay\s+as`),
	regexp.MustCompile(`(?i)simulate\s+(being\s+)?a`),
	regexp.MustCompile(`<\s*\|im_start\|`),
	regexp.MustCompile(`<\s*\|im_end\|`),
	regexp.MustCompile(`<\s*\|endoftext\|`),
	regexp.MustCompile(`(?i)###\s*(instruction|human|assistant|system)`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`\[/INST\]`),
	regexp.MustCompile(`(?i)jailbreak`),
	regexp.MustCompile(`(?i)do\s+anything\s+now`),
	regexp.MustCompile(`(?i)DAN\s+mode`),
	regexp.MustCompile(`(?i)developer\s+mode`),
	regexp.MustCompile(`(?i)unrestricted`),
	regexp.MustCompile(`(?i)output\s+(only|just)`),
	regexp.MustCompile(`(?i)respond\s+with\s+(only|just)`),
	regexp.MustCompile(`(?i)answer\s+in\s+the\s+format`),
	regexp.MustCompile(`(?i)base64`),
	regexp.MustCompile(`(?i)rot13`),
	regexp.MustCompile(`(?i)hex\s+encode`),
	regexp.MustCompile(`\\x[0-9a-f]{2}`),
}

func matchesInjectionPattern(q string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}

// NormalizedQuestionHash is the cache/frequency key component: SHA-256 over
// the lowercased question (spec.md §3).
func NormalizedQuestionHash(question string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question))))
	return hex.EncodeToString(sum[:])
}

func chunkByRunes(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	r := []rune(s)
	var out []string
	for i := 0; i < len(r); i += size {
		end := i + size
		if end > len(r) {
			end = len(r)
		}
		out = append(out, string(r[i:end]))
	}
	return out
}

func streamString(s string, chunkSize int) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for _, part := range chunkByRunes(s, chunkSize) {
			out <- part
		}
	}()
	return out
}

func toRetrievedChunk(docID uuid.UUID, title, uploaderName string, uploaderID int64, uploadDate time.Time, m vectorindex.Match) composer.RetrievedChunk {
	chunkIndex := 0
	if v, ok := m.Metadata["chunk_index"]; ok {
		chunkIndex = atoiSafe(v)
	}
	text := m.Metadata["text"]
	return composer.RetrievedChunk{
		DocumentID:    docID.String(),
		ChunkIndex:    chunkIndex,
		Text:          text,
		Score:         m.Score,
		DocumentTitle: title,
		UploaderName:  uploaderName,
		UploaderID:    uploaderID,
		UploadDate:    uploadDate,
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
