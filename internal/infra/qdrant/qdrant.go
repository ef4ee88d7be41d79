// Package qdrant adapts vectorindex.Index onto a Qdrant collection, grounded
// on the client wiring in the 54b3r-tfai-go example (internal/rag/qdrant.go).
// Namespace isolation (spec.md's "namespace = document-id") is emulated with
// a payload filter on a "document_id" field within one flat collection,
// rather than one Qdrant collection per document — cheaper to operate and
// Qdrant's filtered search stays proportional to the namespace, not the
// whole corpus.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/eduask/backend/internal/domain/vectorindex"
)

const (
	namespaceField = "document_id"
	vectorIDField  = "vector_id"
	// pointIDNamespace seeds a deterministic UUIDv5 derivation from our
	// logical "{document-id}_{chunk-index}" vector IDs, since Qdrant point
	// IDs must be an unsigned integer or a UUID, not an arbitrary string.
	pointIDNamespace = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)

var pointIDSpace = uuid.MustParse(pointIDNamespace)

func pointID(vectorID string) string {
	return uuid.NewSHA1(pointIDSpace, []byte(vectorID)).String()
}

// Config holds connection parameters.
type Config struct {
	Host       string
	Port       int
	Collection string
	VectorSize uint64
	APIKey     string
	UseTLS     bool
}

// Store implements vectorindex.Index backed by Qdrant.
type Store struct {
	client *qdrant.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Store, ensuring the target collection exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: create client: %w", err)
	}
	s := &Store{client: client, cfg: cfg, logger: logger.With("component", "infra.qdrant")}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert writes records tagged with namespace under the document_id payload
// field. Point ID is derived from VectorID so re-delivery is idempotent.
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorindex.Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		payload := map[string]any{namespaceField: namespace, vectorIDField: rec.VectorID}
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(rec.VectorID)),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Query performs a namespace-filtered cosine search.
func (s *Store) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]vectorindex.Match, error) {
	limit := uint64(topK)
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(namespaceField, namespace),
		},
	}
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}
	matches := make([]vectorindex.Match, 0, len(results))
	for _, r := range results {
		meta := make(map[string]string, len(r.GetPayload()))
		for k, v := range r.GetPayload() {
			meta[k] = v.GetStringValue()
		}
		vectorID := meta[vectorIDField]
		delete(meta, vectorIDField)
		delete(meta, namespaceField)
		matches = append(matches, vectorindex.Match{
			VectorID: vectorID,
			Score:    float64(r.GetScore()),
			Metadata: meta,
		})
	}
	return matches, nil
}

// DeleteNamespace removes every point whose document_id payload matches
// namespace (deletion cascade, spec.md §4.7).
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(namespaceField, namespace),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete namespace %q: %w", namespace, err)
	}
	return nil
}

var _ vectorindex.Index = (*Store)(nil)
