// Package vectorindex defines the external vector-index capability (C2):
// per-namespace approximate-nearest-neighbor storage and query. Namespace =
// document-id, per spec.md §3 GLOSSARY. This package is interface-only; the
// concrete adapter lives in internal/infra/qdrant, grounded on the Qdrant Go
// client wiring observed in the niski84-the-hive and 54b3r-tfai-go example
// repos (see DESIGN.md Open Question #2).
package vectorindex

import "context"

// Record is one vector plus its retrievable metadata.
type Record struct {
	VectorID string
	Metadata map[string]string
	Vector   []float32
}

// Match is a scored retrieval hit.
type Match struct {
	VectorID string
	Score    float64
	Metadata map[string]string
}

// Index is the capability interface every embedding/retrieval component
// depends on; never on a concrete vector-database client directly.
type Index interface {
	// Upsert writes records under namespace, idempotent by VectorID — a
	// re-delivered upsert for the same VectorID MUST leave the index in the
	// same final state (spec.md §4.8 step 3).
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns up to topK nearest matches to vector within namespace.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)

	// DeleteNamespace removes every vector under namespace (deletion
	// cascade, spec.md §4.7).
	DeleteNamespace(ctx context.Context, namespace string) error
}
