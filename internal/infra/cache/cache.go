// Package cache implements the Valkey-backed frequency counter and answer
// cache behind retrieval.Cache (spec.md §3, §4.10), grounded on the client
// API usage observed in internal/infra/faqstore/valkey_store.go (the
// teacher's FAQ answer cache) and the key-shape rules in
// internal/domain/faq/store.go. The LSH/semantic-hash search modes that
// package covered are deliberately not carried over — spec.md's frequency
// gating is exact-match only.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/eduask/backend/internal/domain/retrieval"
)

const frequencyTTL = 24 * time.Hour

// Store implements retrieval.Cache and retrieval.PopularityStore on top of a
// Valkey-compatible client.
type Store struct {
	client valkey.Client
	prefix string
}

// New constructs a Store.
func New(client valkey.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "rag"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) freqKey(documentID, questionHash string) string {
	return fmt.Sprintf("%s:freq:%s:%s", s.prefix, documentID, questionHash)
}

func (s *Store) answerKey(documentID, questionHash string) string {
	return fmt.Sprintf("%s:answer:%s:%s", s.prefix, documentID, questionHash)
}

func (s *Store) docPrefix(documentID string) string {
	return fmt.Sprintf("%s:*:%s:*", s.prefix, documentID)
}

func (s *Store) displayKey(documentID, questionHash string) string {
	return fmt.Sprintf("%s:display:%s:%s", s.prefix, documentID, questionHash)
}

// BumpFrequency implements retrieval.Cache.
func (s *Store) BumpFrequency(ctx context.Context, documentID, question string) (int64, error) {
	hash := retrieval.NormalizedQuestionHash(question)
	key := s.freqKey(documentID, hash)
	resp := s.client.Do(ctx, s.client.B().Incr().Key(key).Build())
	count, err := resp.ToInt64()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// First increment: attach the 24h TTL (spec.md §3).
		if expErr := s.client.Do(ctx, s.client.B().Expire().Key(key).Seconds(int64(frequencyTTL.Seconds())).Build()).Error(); expErr != nil {
			return count, expErr
		}
	}
	_ = s.client.Do(ctx, s.client.B().Set().Key(s.displayKey(documentID, hash)).Value(question).Nx().Ex(frequencyTTL).Build()).Error()
	return count, nil
}

// GetAnswer implements retrieval.Cache.
func (s *Store) GetAnswer(ctx context.Context, documentID, question string) (string, bool, error) {
	hash := retrieval.NormalizedQuestionHash(question)
	key := s.answerKey(documentID, hash)
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	answer, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return answer, true, nil
}

// SaveAnswer implements retrieval.Cache.
func (s *Store) SaveAnswer(ctx context.Context, documentID, question, answer string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	hash := retrieval.NormalizedQuestionHash(question)
	key := s.answerKey(documentID, hash)
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(answer).Ex(ttl).Build()).Error()
}

// DeleteDocument removes every frequency/answer key for documentID
// (deletion cascade, spec.md §4.7). Uses SCAN rather than KEYS to avoid
// blocking the server on large keyspaces.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	pattern := s.docPrefix(documentID)
	var cursor uint64
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return err
		}
		if len(entry.Elements) > 0 {
			cmd := s.client.B().Del().Key(entry.Elements...).Build()
			if err := s.client.Do(ctx, cmd).Error(); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return nil
}

// TopQuestions implements retrieval.PopularityStore by scanning the
// document's frequency keys and sorting client-side; acceptable since this
// keyspace is inherently small per document.
func (s *Store) TopQuestions(ctx context.Context, documentID string, limit, offset int) ([]retrieval.PopularQuestion, error) {
	prefix := fmt.Sprintf("%s:freq:%s:", s.prefix, documentID)
	var cursor uint64
	var rows []retrieval.PopularQuestion
	for {
		resp := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(200).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return nil, err
		}
		for _, key := range entry.Elements {
			hash := strings.TrimPrefix(key, prefix)
			countResp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
			count, err := countResp.ToInt64()
			if err != nil {
				continue
			}
			_, cached, _ := s.answerExists(ctx, documentID, hash)
			questionText := s.fetchDisplay(ctx, documentID, hash)
			rows = append(rows, retrieval.PopularQuestion{Question: questionText, Frequency: count, IsCached: cached})
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	sortPopular(rows)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) answerExists(ctx context.Context, documentID, questionHash string) (string, bool, error) {
	key := fmt.Sprintf("%s:answer:%s:%s", s.prefix, documentID, questionHash)
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	answer, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return answer, true, nil
}

func (s *Store) fetchDisplay(ctx context.Context, documentID, questionHash string) string {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.displayKey(documentID, questionHash)).Build())
	text, err := resp.ToString()
	if err != nil || text == "" {
		return questionHash
	}
	return text
}

func sortPopular(rows []retrieval.PopularQuestion) {
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].Frequency > rows[j-1].Frequency; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
}

var (
	_ retrieval.Cache           = (*Store)(nil)
	_ retrieval.PopularityStore = (*Store)(nil)
)
