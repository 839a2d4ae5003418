package content

import "github.com/google/uuid"

// Document is raw study material before processing. SourceID is the caller's
// stable identifier for the material (note id, upload id).
type Document struct {
	SourceID string `json:"source_id"`
	OwnerID  string `json:"owner_id"`
	CourseID string `json:"course_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
}

// Chunk is a bounded span of a processed document. Chunks are never mutated
// in place: reprocessing a source mints new ids and retires the old ones.
type Chunk struct {
	ID            uuid.UUID `json:"id"`
	SourceID      string    `json:"source_id"`
	OwnerID       string    `json:"owner_id"`
	CourseID      string    `json:"course_id,omitempty"`
	Ordinal       int       `json:"ordinal"`
	Text          string    `json:"text"`
	TokenEstimate int       `json:"token_estimate"`
	ContentHash   string    `json:"content_hash"`
	Embedding     []float32 `json:"embedding,omitempty"`
}

// EstimateTokens approximates the token count of a text span. Four
// characters per token tracks common tokenizers closely enough for
// admission and truncation decisions.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
