package indexing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renatodap/studysharper-sub001/domain/ai"
	"github.com/renatodap/studysharper-sub001/domain/content"
	"github.com/renatodap/studysharper-sub001/domain/vector"
)

// Processor turns a document into deterministic chunks.
type Processor interface {
	Process(doc *content.Document) ([]content.Chunk, error)
	Hash(doc *content.Document) string
}

// Embedder is the slice of the AI router the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (*ai.EmbeddingResponse, error)
}

// hashLookup is implemented by stores that remember the content hash of
// an indexed source, enabling skip-unchanged.
type hashLookup interface {
	SourceHash(ctx context.Context, ownerID, sourceID string) (string, error)
}

// sourceReplacer is implemented by stores that can swap a source's chunks
// atomically. Preferred over delete-then-upsert so a concurrent query never
// observes the document fully missing mid-reindex.
type sourceReplacer interface {
	ReplaceSource(ctx context.Context, ownerID, sourceID string, chunks []content.Chunk) error
}

// Health is a point-in-time snapshot of the indexer.
type Health struct {
	IsRunning      bool  `json:"is_running"`
	QueueSize      int   `json:"queue_size"`
	ProcessedCount int64 `json:"processed_count"`
	ErrorCount     int64 `json:"error_count"`
	SkippedCount   int64 `json:"skipped_count"`
}

// Indexer ingests documents asynchronously: chunk, embed, then replace
// the source's chunks in the vector store. Submissions never block the
// caller; a full queue drops the document with a warning.
type Indexer struct {
	processor Processor
	embedder  Embedder
	store     vector.Store

	docChan     chan *content.Document
	workerCount int
	bufferSize  int
	opTimeout   time.Duration

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	lifecycle      sync.RWMutex // serializes Submit sends against Stop's channel close
	isRunning      atomic.Bool
	processedCount atomic.Int64
	errorCount     atomic.Int64
	skippedCount   atomic.Int64
}

func NewIndexer(processor Processor, embedder Embedder, store vector.Store, workerCount, bufferSize int) *Indexer {
	if workerCount <= 0 {
		workerCount = 2
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Indexer{
		processor:   processor,
		embedder:    embedder,
		store:       store,
		docChan:     make(chan *content.Document, bufferSize),
		workerCount: workerCount,
		bufferSize:  bufferSize,
		opTimeout:   2 * time.Minute,
	}
}

// Start launches the worker goroutines.
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.isRunning.Load() {
		return fmt.Errorf("indexer is already running")
	}

	ix.ctx, ix.cancel = context.WithCancel(ctx)
	ix.isRunning.Store(true)

	for i := 0; i < ix.workerCount; i++ {
		ix.wg.Add(1)
		go ix.worker(i)
	}

	logrus.WithFields(logrus.Fields{
		"worker_count": ix.workerCount,
		"buffer_size":  ix.bufferSize,
	}).Info("Indexer started")

	return nil
}

// Stop drains in-flight work and shuts the workers down.
func (ix *Indexer) Stop() error {
	// Mark not-running before closing the channel, under the lifecycle
	// lock, so a concurrent Submit either sends before the close or sees
	// the indexer stopped. Never a send on a closed channel.
	ix.lifecycle.Lock()
	if !ix.isRunning.Load() {
		ix.lifecycle.Unlock()
		return nil
	}
	ix.isRunning.Store(false)

	logrus.Info("Stopping indexer...")

	ix.cancel()
	close(ix.docChan)
	ix.lifecycle.Unlock()

	done := make(chan struct{})
	go func() {
		ix.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Indexer stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Indexer stop timed out")
	}

	return nil
}

// Submit enqueues a document for indexing. It validates eagerly so the
// caller gets ErrInvalidArgument synchronously instead of a silent drop.
func (ix *Indexer) Submit(doc *content.Document) error {
	if doc == nil {
		return ai.WrapInvalidArgument("document cannot be nil")
	}
	if doc.SourceID == "" || doc.OwnerID == "" {
		return ai.WrapInvalidArgument("document requires source_id and owner_id")
	}

	ix.lifecycle.RLock()
	defer ix.lifecycle.RUnlock()
	if !ix.isRunning.Load() {
		return fmt.Errorf("indexer is not running")
	}

	select {
	case ix.docChan <- doc:
		return nil
	case <-ix.ctx.Done():
		return fmt.Errorf("indexer is shutting down")
	default:
		ix.errorCount.Add(1)
		logrus.WithField("source_id", doc.SourceID).Warn("Indexer queue is full, dropping document")
		return fmt.Errorf("indexer queue is full")
	}
}

// IndexDocument runs the full pipeline synchronously. Submit goes through
// the queue; the HTTP layer uses this directly when the caller wants the
// result before the response.
func (ix *Indexer) IndexDocument(ctx context.Context, doc *content.Document) (int, error) {
	hash := ix.processor.Hash(doc)
	if lookup, ok := ix.store.(hashLookup); ok {
		prior, err := lookup.SourceHash(ctx, doc.OwnerID, doc.SourceID)
		if err == nil && prior != "" && prior == hash {
			ix.skippedCount.Add(1)
			logrus.WithField("source_id", doc.SourceID).Debug("Document unchanged, skipping reindex")
			return 0, nil
		}
	}

	chunks, err := ix.processor.Process(doc)
	if err != nil {
		return 0, err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	resp, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %s: %w", doc.SourceID, err)
	}
	if len(resp.Vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding count mismatch for %s: got %d, want %d", doc.SourceID, len(resp.Vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = resp.Vectors[i]
	}

	// Replace rather than merge so re-ingesting a shrunk document retires
	// the stale tail chunks. Stores that support it swap atomically; a
	// query concurrent with reindexing then sees the old generation or
	// the new one, never neither.
	if replacer, ok := ix.store.(sourceReplacer); ok {
		if err := replacer.ReplaceSource(ctx, doc.OwnerID, doc.SourceID, chunks); err != nil {
			return 0, fmt.Errorf("failed to replace chunks for %s: %w", doc.SourceID, err)
		}
		return len(chunks), nil
	}

	if err := ix.store.Delete(ctx, doc.OwnerID, doc.SourceID); err != nil {
		return 0, fmt.Errorf("failed to clear prior chunks for %s: %w", doc.SourceID, err)
	}
	if err := ix.store.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks for %s: %w", doc.SourceID, err)
	}

	return len(chunks), nil
}

// Health reports queue and counter state for the readiness endpoint.
func (ix *Indexer) Health() Health {
	return Health{
		IsRunning:      ix.isRunning.Load(),
		QueueSize:      len(ix.docChan),
		ProcessedCount: ix.processedCount.Load(),
		ErrorCount:     ix.errorCount.Load(),
		SkippedCount:   ix.skippedCount.Load(),
	}
}

func (ix *Indexer) worker(workerID int) {
	defer ix.wg.Done()

	logger := logrus.WithField("worker_id", workerID)
	logger.Info("Indexer worker started")

	for {
		select {
		case doc, ok := <-ix.docChan:
			if !ok {
				logger.Info("Document channel closed, worker stopping")
				return
			}

			opCtx, cancel := context.WithTimeout(context.Background(), ix.opTimeout)
			count, err := ix.IndexDocument(opCtx, doc)
			cancel()

			if err != nil {
				ix.errorCount.Add(1)
				logger.WithError(err).WithField("source_id", doc.SourceID).Error("Failed to index document")
			} else {
				ix.processedCount.Add(1)
				logger.WithFields(logrus.Fields{
					"source_id": doc.SourceID,
					"chunks":    count,
				}).Info("Document indexed")
			}

		case <-ix.ctx.Done():
			logger.Info("Context cancelled, worker stopping")
			return
		}
	}
}
