package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process vectorindex.Index used in tests, grounded on
// the teacher's in-memory test-double convention (e.g.
// infra/uploadask/storage/memory.go, infra/uploadask/repo/memory.go).
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{namespaces: make(map[string]map[string]Record)}
}

func (m *MemoryIndex) Upsert(_ context.Context, namespace string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record)
		m.namespaces[namespace] = ns
	}
	for _, rec := range records {
		ns[rec.VectorID] = rec
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[namespace]
	if !ok {
		return nil, nil
	}
	matches := make([]Match, 0, len(ns))
	for _, rec := range ns {
		matches = append(matches, Match{
			VectorID: rec.VectorID,
			Score:    cosineSimilarity(vector, rec.Vector),
			Metadata: rec.Metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *MemoryIndex) DeleteNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, namespace)
	return nil
}

// Count returns the number of vectors currently stored in namespace; used by
// tests that assert on vector-count invariants (spec.md §8 S1, S5).
func (m *MemoryIndex) Count(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[namespace])
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

var _ Index = (*MemoryIndex)(nil)
