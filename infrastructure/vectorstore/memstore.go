package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

// source holds one document's chunks behind its own lock so reprocessing
// never interleaves with a query observing a half-deleted document, while
// disjoint sources proceed concurrently.
type source struct {
	mu     sync.RWMutex
	chunks []content.Chunk
}

// sourceKey identifies a document per owner. Two owners submitting the
// same source id hold independent documents.
type sourceKey struct {
	ownerID  string
	sourceID string
}

// MemoryStore is the in-process vector store used when persistence is
// disabled and in tests. Similarity is cosine over the configured
// dimensionality.
type MemoryStore struct {
	dimensions int

	mu      sync.RWMutex // guards the source map, not chunk data
	sources map[sourceKey]*source
}

func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		dimensions: dimensions,
		sources:    make(map[sourceKey]*source),
	}
}

func (s *MemoryStore) getOrCreateSource(key sourceKey) *source {
	s.mu.RLock()
	if src, ok := s.sources[key]; ok {
		s.mu.RUnlock()
		return src
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[key]; ok {
		return src
	}
	src := &source{}
	s.sources[key] = src
	return src
}

// Upsert implements vector.Store. Chunks are grouped per source; a chunk
// id already present in its source is replaced.
func (s *MemoryStore) Upsert(ctx context.Context, chunks []content.Chunk) error {
	if len(chunks) == 0 {
		return ai.WrapInvalidArgument("chunks cannot be empty")
	}

	bySource := make(map[sourceKey][]content.Chunk)
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return ai.WrapInvalidArgument("chunk %s has no embedding", chunk.ID)
		}
		if len(chunk.Embedding) != s.dimensions {
			return ai.WrapDimensionMismatch(len(chunk.Embedding), s.dimensions)
		}
		key := sourceKey{ownerID: chunk.OwnerID, sourceID: chunk.SourceID}
		bySource[key] = append(bySource[key], chunk)
	}

	for key, group := range bySource {
		src := s.getOrCreateSource(key)
		src.mu.Lock()
		for _, chunk := range group {
			replaced := false
			for i := range src.chunks {
				if src.chunks[i].ID == chunk.ID {
					src.chunks[i] = chunk
					replaced = true
					break
				}
			}
			if !replaced {
				src.chunks = append(src.chunks, chunk)
			}
		}
		src.mu.Unlock()
	}

	return nil
}

// Query implements vector.Store: results ordered by similarity descending,
// ties broken by chunk ordinal ascending. A corpus smaller than k returns
// fewer results, never an error.
func (s *MemoryStore) Query(ctx context.Context, embedding []float32, k int, scope vector.Scope) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, ai.WrapInvalidArgument("k must be positive: %d", k)
	}
	if len(embedding) != s.dimensions {
		return nil, ai.WrapDimensionMismatch(len(embedding), s.dimensions)
	}

	s.mu.RLock()
	snapshot := make([]*source, 0, len(s.sources))
	for _, src := range s.sources {
		snapshot = append(snapshot, src)
	}
	s.mu.RUnlock()

	var results []vector.SearchResult
	for _, src := range snapshot {
		src.mu.RLock()
		for _, chunk := range src.chunks {
			if scope.OwnerID != "" && chunk.OwnerID != scope.OwnerID {
				continue
			}
			if scope.CourseID != "" && chunk.CourseID != scope.CourseID {
				continue
			}
			results = append(results, vector.SearchResult{
				Chunk:      chunk,
				Similarity: CosineSimilarity(embedding, chunk.Embedding),
			})
		}
		src.mu.RUnlock()
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ReplaceSource atomically swaps a document's chunks for the new
// generation. The source lock is held across the swap, so a concurrent
// query sees either the old chunks or the new ones, never an empty gap.
func (s *MemoryStore) ReplaceSource(ctx context.Context, ownerID, sourceID string, chunks []content.Chunk) error {
	if ownerID == "" || sourceID == "" {
		return ai.WrapInvalidArgument("owner id and source id cannot be empty")
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return ai.WrapInvalidArgument("chunk %s has no embedding", chunk.ID)
		}
		if len(chunk.Embedding) != s.dimensions {
			return ai.WrapDimensionMismatch(len(chunk.Embedding), s.dimensions)
		}
		if chunk.OwnerID != ownerID || chunk.SourceID != sourceID {
			return ai.WrapInvalidArgument("chunk %s does not belong to source %s", chunk.ID, sourceID)
		}
	}

	src := s.getOrCreateSource(sourceKey{ownerID: ownerID, sourceID: sourceID})
	src.mu.Lock()
	src.chunks = append([]content.Chunk(nil), chunks...)
	src.mu.Unlock()
	return nil
}

// Delete implements vector.Store, removing every chunk of the owner's source.
func (s *MemoryStore) Delete(ctx context.Context, ownerID, sourceID string) error {
	if ownerID == "" || sourceID == "" {
		return ai.WrapInvalidArgument("owner id and source id cannot be empty")
	}

	key := sourceKey{ownerID: ownerID, sourceID: sourceID}
	s.mu.RLock()
	src, ok := s.sources[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	src.mu.Lock()
	src.chunks = nil
	src.mu.Unlock()

	s.mu.Lock()
	delete(s.sources, key)
	s.mu.Unlock()
	return nil
}

// Count implements vector.Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	snapshot := make([]*source, 0, len(s.sources))
	for _, src := range s.sources {
		snapshot = append(snapshot, src)
	}
	s.mu.RUnlock()

	total := 0
	for _, src := range snapshot {
		src.mu.RLock()
		total += len(src.chunks)
		src.mu.RUnlock()
	}
	return total, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Zero vectors yield zero similarity.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
