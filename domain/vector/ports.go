package vector

import (
	"context"

	"github.com/renatodap/studysharper-sub001/domain/content"
)

// Scope restricts retrieval to content the requesting identity may see.
// Empty CourseID means all of the owner's courses.
type Scope struct {
	OwnerID  string `json:"owner_id"`
	CourseID string `json:"course_id,omitempty"`
}

// SearchResult pairs a chunk with its cosine similarity to the query.
type SearchResult struct {
	Chunk      content.Chunk `json:"chunk"`
	Similarity float64       `json:"similarity"`
}

// Store persists chunk embeddings and answers nearest-neighbor queries.
// Every stored entry carries an embedding of the configured dimensionality.
type Store interface {
	// Upsert stores chunks with embeddings. Chunks missing an embedding or
	// with the wrong dimensionality are rejected.
	Upsert(ctx context.Context, chunks []content.Chunk) error

	// Query returns up to k results ordered by similarity descending,
	// ties broken by chunk ordinal ascending. A corpus smaller than k
	// returns fewer results, never an error.
	Query(ctx context.Context, embedding []float32, k int, scope Scope) ([]SearchResult, error)

	// Delete removes all chunks belonging to the owner's source document.
	// Sources are keyed by (owner, source id), so one owner's delete never
	// touches another owner's document with the same source id.
	Delete(ctx context.Context, ownerID, sourceID string) error

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}
