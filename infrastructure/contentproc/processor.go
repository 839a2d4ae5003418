package contentproc

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
)

// Processor normalizes raw study material into bounded, overlapping text
// spans ready for embedding. Splitting is deterministic: the same document
// and configuration always produce the same boundaries and ordinals.
// Chunk ids are minted per run; callers use the content hash to skip
// documents that have not changed.
type Processor struct {
	chunkSize    int // max chunk length in runes
	chunkOverlap int // runes carried over between consecutive chunks
}

func NewProcessor(chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	return &Processor{chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Hash returns the content hash used to detect unchanged documents.
func (p *Processor) Hash(doc *content.Document) string {
	sum := sha256.Sum256([]byte(doc.Text))
	return hex.EncodeToString(sum[:])
}

// Changed reports whether the document's text differs from priorHash.
func (p *Processor) Changed(doc *content.Document, priorHash string) bool {
	return priorHash == "" || p.Hash(doc) != priorHash
}

// Process splits a document into chunks. Embeddings are left nil; the
// write path fills them in before the chunks reach the vector store.
func (p *Processor) Process(doc *content.Document) ([]content.Chunk, error) {
	if doc == nil {
		return nil, ai.WrapInvalidArgument("document cannot be nil")
	}
	if doc.SourceID == "" {
		return nil, ai.WrapInvalidArgument("document source id cannot be empty")
	}
	if doc.OwnerID == "" {
		return nil, ai.WrapInvalidArgument("document owner id cannot be empty")
	}
	if strings.TrimSpace(doc.Text) == "" {
		return nil, ai.WrapInvalidArgument("document text cannot be empty")
	}

	hash := p.Hash(doc)
	runes := []rune(doc.Text)
	step := p.chunkSize - p.chunkOverlap

	var chunks []content.Chunk
	for start, ordinal := 0, 0; start < len(runes); start, ordinal = start+step, ordinal+1 {
		end := start + p.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		text := string(runes[start:end])

		chunks = append(chunks, content.Chunk{
			ID:            uuid.New(),
			SourceID:      doc.SourceID,
			OwnerID:       doc.OwnerID,
			CourseID:      doc.CourseID,
			Ordinal:       ordinal,
			Text:          text,
			TokenEstimate: content.EstimateTokens(text),
			ContentHash:   hash,
		})

		if end == len(runes) {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"source_id": doc.SourceID,
		"chunks":    len(chunks),
	}).Debug("Processed document into chunks")

	return chunks, nil
}
