package persistence

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

// ChunkStore implements vector.Store on Postgres with pgvector. Cosine
// distance ordering runs in SQL against the HNSW index; the reprocessing
// delete-then-insert for one source runs in a single transaction so a
// concurrent query never observes a partially-deleted document.
type ChunkStore struct {
	db         *gorm.DB
	dimensions int
}

func NewChunkStore(db *gorm.DB, dimensions int) *ChunkStore {
	return &ChunkStore{db: db, dimensions: dimensions}
}

// Upsert implements vector.Store.
func (s *ChunkStore) Upsert(ctx context.Context, chunks []content.Chunk) error {
	if len(chunks) == 0 {
		return ai.WrapInvalidArgument("chunks cannot be empty")
	}

	records := make([]ChunkRecord, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return ai.WrapInvalidArgument("chunk %s has no embedding", chunk.ID)
		}
		if len(chunk.Embedding) != s.dimensions {
			return ai.WrapDimensionMismatch(len(chunk.Embedding), s.dimensions)
		}
		records = append(records, ChunkRecord{
			ID:            chunk.ID,
			SourceID:      chunk.SourceID,
			OwnerID:       chunk.OwnerID,
			CourseID:      chunk.CourseID,
			Ordinal:       chunk.Ordinal,
			Text:          chunk.Text,
			TokenEstimate: chunk.TokenEstimate,
			ContentHash:   chunk.ContentHash,
			Embedding:     pgvector.NewVector(chunk.Embedding),
		})
	}

	if err := s.db.WithContext(ctx).CreateInBatches(records, 100).Error; err != nil {
		return fmt.Errorf("failed to insert chunk records: %w", err)
	}
	return nil
}

// ReplaceSource atomically retires the owner's source chunks and stores the
// new generation. The reprocessing write path goes through here so a
// concurrent query never observes the document fully missing.
func (s *ChunkStore) ReplaceSource(ctx context.Context, ownerID, sourceID string, chunks []content.Chunk) error {
	if ownerID == "" || sourceID == "" {
		return ai.WrapInvalidArgument("owner id and source id cannot be empty")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND source_id = ?", ownerID, sourceID).Delete(&ChunkRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete prior chunks for source %s: %w", sourceID, err)
		}
		if len(chunks) == 0 {
			return nil
		}
		inner := &ChunkStore{db: tx, dimensions: s.dimensions}
		return inner.Upsert(ctx, chunks)
	})
}

type chunkRow struct {
	ChunkRecord
	Similarity float64 `json:"similarity"`
}

// Query implements vector.Store: cosine similarity descending, ties by
// ordinal ascending.
func (s *ChunkStore) Query(ctx context.Context, embedding []float32, k int, scope vector.Scope) ([]vector.SearchResult, error) {
	if k <= 0 {
		return nil, ai.WrapInvalidArgument("k must be positive: %d", k)
	}
	if len(embedding) != s.dimensions {
		return nil, ai.WrapDimensionMismatch(len(embedding), s.dimensions)
	}

	query := `
		SELECT *, 1 - (embedding <=> ?) AS similarity
		FROM study_chunks
		WHERE (? = '' OR owner_id = ?)
		  AND (? = '' OR course_id = ?)
		ORDER BY similarity DESC, ordinal ASC
		LIMIT ?`

	var rows []chunkRow
	vec := pgvector.NewVector(embedding)
	if err := s.db.WithContext(ctx).
		Raw(query, vec, scope.OwnerID, scope.OwnerID, scope.CourseID, scope.CourseID, k).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	results := make([]vector.SearchResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, vector.SearchResult{
			Chunk: content.Chunk{
				ID:            row.ID,
				SourceID:      row.SourceID,
				OwnerID:       row.OwnerID,
				CourseID:      row.CourseID,
				Ordinal:       row.Ordinal,
				Text:          row.Text,
				TokenEstimate: row.TokenEstimate,
				ContentHash:   row.ContentHash,
				Embedding:     row.Embedding.Slice(),
			},
			Similarity: row.Similarity,
		})
	}
	return results, nil
}

// Delete implements vector.Store. The owner filter keeps one user's delete
// away from another user's document with the same source id.
func (s *ChunkStore) Delete(ctx context.Context, ownerID, sourceID string) error {
	if ownerID == "" || sourceID == "" {
		return ai.WrapInvalidArgument("owner id and source id cannot be empty")
	}
	if err := s.db.WithContext(ctx).Where("owner_id = ? AND source_id = ?", ownerID, sourceID).Delete(&ChunkRecord{}).Error; err != nil {
		return fmt.Errorf("failed to delete chunks for source %s: %w", sourceID, err)
	}
	return nil
}

// Count implements vector.Store.
func (s *ChunkStore) Count(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return int(count), nil
}

// SourceHash returns the content hash of the owner's source chunks, or
// empty when the source has none. Used to skip unchanged documents.
func (s *ChunkStore) SourceHash(ctx context.Context, ownerID, sourceID string) (string, error) {
	var record ChunkRecord
	err := s.db.WithContext(ctx).
		Select("content_hash").
		Where("owner_id = ? AND source_id = ?", ownerID, sourceID).
		Order("ordinal ASC").
		First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load source hash: %w", err)
	}
	return record.ContentHash, nil
}
