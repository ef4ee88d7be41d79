package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eduask/backend/internal/domain/composer"
	"github.com/eduask/backend/internal/domain/document"
	"github.com/eduask/backend/internal/domain/questionlog"
	"github.com/eduask/backend/internal/domain/vectorindex"
	apperrors "github.com/eduask/backend/pkg/errors"
)

const globalNamespaceSentinel = "global"

var (
	noVectorizedContentNotice = "This document has not been vectorized yet, or processing is still running."
	noSearchableContentNotice = "There is no searchable content available to answer this question yet."
	streamErrorTail           = "\n\nI encountered an error, please try again."
)

// WithLogger attaches a logger; optional, defaults to slog.Default().
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	s.logger = logger.With("component", "retrieval.service")
	return s
}

// QueryDocument implements the per-document flow (spec.md §4.10).
func (s *Service) QueryDocument(ctx context.Context, documentID uuid.UUID, question string, userID int64, sessionID string) (QueryResult, error) {
	q, err := ValidateQuestion(question)
	if err != nil {
		return QueryResult{}, err
	}
	docIDStr := documentID.String()

	count, err := s.cache.BumpFrequency(ctx, docIDStr, q)
	if err != nil {
		return QueryResult{}, apperrors.Wrap("external-service", "cache unreachable", err)
	}

	if count >= s.cfg.CacheThreshold {
		if answer, found, cacheErr := s.cache.GetAnswer(ctx, docIDStr, q); cacheErr == nil && found {
			s.logAsync(context.Background(), &documentID, sessionID, userID, q, answer, true, false, nil)
			return QueryResult{Answer: answer, Cached: true, Stream: streamString(answer, 50)}, nil
		}
	}

	doc, found, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return QueryResult{}, err
	}
	if !found {
		return QueryResult{}, apperrors.Wrap("not-found", "document not found", nil)
	}

	vector, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return QueryResult{}, apperrors.Wrap("external-service", "embedding failed", err)
	}

	matches, err := s.index.Query(ctx, docIDStr, vector, s.cfg.TopK)
	if err != nil {
		return QueryResult{}, apperrors.Wrap("external-service", "vector query failed", err)
	}
	if len(matches) == 0 {
		return QueryResult{Stream: streamString(noVectorizedContentNotice, 50), Notice: noVectorizedContentNotice}, nil
	}

	chunks := make([]composer.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		chunks = append(chunks, toRetrievedChunk(documentID, doc.Metadata.Title, doc.Metadata.UploaderName, doc.OriginalUploader, doc.CreatedAt, m))
	}
	prompt := composer.Build(q, chunks, false)

	tokens, err := s.composer.GenerateStream(ctx, prompt)
	if err != nil {
		return QueryResult{}, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		var builder strings.Builder
		for t := range tokens {
			if t.Err != nil {
				builder.WriteString(streamErrorTail)
				select {
				case out <- streamErrorTail:
				case <-ctx.Done():
				}
				break
			}
			builder.WriteString(t.Delta)
			select {
			case out <- t.Delta:
			case <-ctx.Done():
				return
			}
		}
		answer := builder.String()
		if answer == "" {
			return
		}
		if !composer.ContainsLeakMarker(answer) && count >= s.cfg.CacheThreshold {
			if saveErr := s.cache.SaveAnswer(context.Background(), docIDStr, q, answer, s.cfg.CacheTTL); saveErr != nil && s.logger != nil {
				s.logger.Warn("cache save failed", "error", saveErr)
			}
		}
		s.logAsync(context.Background(), &documentID, sessionID, userID, q, answer, false, false, nil)
	}()

	return QueryResult{Stream: out, Sources: prompt.Sources}, nil
}

// QueryGlobal implements the cross-document flow (spec.md §4.10).
func (s *Service) QueryGlobal(ctx context.Context, userID int64, role string, question string, selectedDocIDs []uuid.UUID, sessionID string) (QueryResult, error) {
	q, err := ValidateQuestion(question)
	if err != nil {
		return QueryResult{}, err
	}

	if _, err := s.cache.BumpFrequency(ctx, globalNamespaceSentinel, q); err != nil && s.logger != nil {
		s.logger.Warn("global frequency bump failed", "error", err)
	}

	var namespaces []uuid.UUID
	if len(selectedDocIDs) > 0 {
		accessible, _, err := s.access.FilterSelection(ctx, userID, role, selectedDocIDs)
		if err != nil {
			return QueryResult{}, err
		}
		namespaces = accessible
	} else {
		accessible, err := s.access.AccessibleDocuments(ctx, userID, role)
		if err != nil {
			return QueryResult{}, err
		}
		namespaces = accessible
	}

	// Single explicitly-selected id delegates to the per-document flow
	// regardless of how many documents are accessible overall (spec.md
	// §4.10, DESIGN.md Open Question #4).
	if len(selectedDocIDs) == 1 {
		return s.QueryDocument(ctx, selectedDocIDs[0], question, userID, sessionID)
	}

	if len(namespaces) == 0 {
		return QueryResult{Stream: streamString(noSearchableContentNotice, 50), Notice: noSearchableContentNotice}, nil
	}

	vector, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return QueryResult{}, apperrors.Wrap("external-service", "embedding failed", err)
	}

	perNamespace := s.cfg.TopK/len(namespaces) + 1
	chunks := s.gatherAndDiversify(ctx, namespaces, vector, perNamespace)
	if len(chunks) == 0 {
		// Second pass: query each namespace directly for 2 chunks.
		chunks = s.gatherAndDiversify(ctx, namespaces, vector, 2)
	}
	if len(chunks) == 0 {
		s.logAsync(context.Background(), nil, sessionID, userID, q, noSearchableContentNotice, false, true, namespaces)
		return QueryResult{Answer: noSearchableContentNotice, Notice: noSearchableContentNotice}, nil
	}

	docMeta := s.fetchDocMeta(ctx, namespaces)
	retrieved := make([]composer.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		meta := docMeta[c.namespace]
		retrieved = append(retrieved, toRetrievedChunk(c.namespace, meta.Metadata.Title, meta.Metadata.UploaderName, meta.OriginalUploader, meta.CreatedAt, c.match))
	}
	prompt := composer.Build(q, retrieved, true)

	answer, err := s.composer.GenerateComplete(ctx, prompt)
	if err != nil {
		return QueryResult{}, err
	}
	s.logAsync(context.Background(), nil, sessionID, userID, q, answer, false, true, namespaces)
	return QueryResult{Answer: answer, Sources: prompt.Sources}, nil
}

type namespacedMatch struct {
	namespace uuid.UUID
	match     vectorindex.Match
}

// gatherAndDiversify queries every namespace for perNamespace results, then
// round-robins across namespaces in insertion order popping the
// highest-scoring remaining chunk until maxPerDoc/maxTotal are hit (spec.md
// §4.10 Diversify).
func (s *Service) gatherAndDiversify(ctx context.Context, namespaces []uuid.UUID, vector []float32, perNamespace int) []namespacedMatch {
	perNS := make(map[uuid.UUID][]vectorindex.Match, len(namespaces))
	for _, ns := range namespaces {
		matches, err := s.index.Query(ctx, ns.String(), vector, perNamespace)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("namespace query failed", "namespace", ns, "error", err)
			}
			continue
		}
		sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
		perNS[ns] = matches
	}

	var out []namespacedMatch
	perDocCount := make(map[uuid.UUID]int)
	cursor := make(map[uuid.UUID]int)
	for len(out) < maxTotal {
		progressed := false
		for _, ns := range namespaces {
			if len(out) >= maxTotal {
				break
			}
			if perDocCount[ns] >= maxPerDoc {
				continue
			}
			idx := cursor[ns]
			matches := perNS[ns]
			if idx >= len(matches) {
				continue
			}
			out = append(out, namespacedMatch{namespace: ns, match: matches[idx]})
			cursor[ns] = idx + 1
			perDocCount[ns]++
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

func (s *Service) fetchDocMeta(ctx context.Context, namespaces []uuid.UUID) map[uuid.UUID]document.Document {
	out := make(map[uuid.UUID]document.Document, len(namespaces))
	for _, ns := range namespaces {
		if doc, found, err := s.docs.Get(ctx, ns); err == nil && found {
			out[ns] = doc
		}
	}
	return out
}

func (s *Service) logAsync(ctx context.Context, documentID *uuid.UUID, sessionID string, userID int64, question, answer string, cached, isGlobal bool, searched []uuid.UUID) {
	if s.questions == nil {
		return
	}
	qtype, conf := questionlog.Classify(question)
	entry := questionlog.Entry{
		ID:                  uuid.New(),
		DocumentID:          documentID,
		SessionID:           sessionID,
		AskerUserID:         userID,
		QuestionText:        question,
		AnswerText:          answer,
		Cached:              cached,
		ClassifiedType:      qtype,
		ClassificationScore: conf,
		IsGlobal:            isGlobal,
		SearchedDocumentIDs: searched,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.questions.Append(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("question-log append failed", "error", err)
	}
}
