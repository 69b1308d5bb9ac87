package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"polyglotd/backend/internal/text"
)

// Options tune how the coordinator slices and embeds documents.
type Options struct {
	ChunkSizeTokens     int
	ChunkOverlapTokens  int
	EmbedBatchSize      int
	PreciseInvalidation bool
}

// Coordinator turns a document into embedded chunks and swaps them into the
// index atomically. New chunks are tagged with a fresh batch ID; the previous
// generation is deleted only after the whole new generation is indexed, so a
// failed ingest leaves the old chunks searchable.
type Coordinator struct {
	splitter    *text.Splitter
	embedder    Embedder
	store       ChunkStore
	invalidator Invalidator
	opts        Options
}

func NewCoordinator(embedder Embedder, store ChunkStore, invalidator Invalidator, opts Options) *Coordinator {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 16
	}
	return &Coordinator{
		splitter:    text.NewSplitter(opts.ChunkSizeTokens, opts.ChunkOverlapTokens),
		embedder:    embedder,
		store:       store,
		invalidator: invalidator,
		opts:        opts,
	}
}

// Ingest chunks, embeds and indexes doc, returning the object IDs of the new
// chunks. An empty body is treated as a removal: all chunks of the document
// are deleted and nil is returned.
func (c *Coordinator) Ingest(ctx context.Context, doc Document) ([]string, error) {
	if doc.Body == "" {
		if err := c.store.DeleteByDocument(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIndexingFailed, err)
		}
		c.invalidate(ctx, doc.Language)
		return nil, nil
	}

	chunks := c.splitter.Split(doc.Body, doc.Language)
	if len(chunks) == 0 {
		return nil, nil
	}

	batchID := uuid.New().String()
	records := make([]ChunkRecord, 0, len(chunks))

	for start := 0; start < len(chunks); start += c.opts.EmbedBatchSize {
		end := start + c.opts.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		window := chunks[start:end]

		texts := make([]string, len(window))
		for i, ch := range window {
			texts[i] = ch.EmbedText()
		}

		vectors, modelVersion, err := c.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(window) {
			return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailed, len(vectors), len(window))
		}

		for i, ch := range window {
			records = append(records, ChunkRecord{
				ObjectID:     uuid.New().String(),
				DocumentID:   doc.ID,
				ChunkIndex:   ch.Index,
				BatchID:      batchID,
				Content:      ch.Text,
				Vector:       vectors[i],
				TokenCount:   ch.TokenCount,
				ModelVersion: modelVersion,
				Title:        doc.Title,
				URL:          doc.URL,
				Site:         doc.Site,
				Language:     doc.Language,
				ContentType:  doc.ContentType,
				PublishedAt:  doc.PublishedAt,
			})
		}
	}

	if err := c.store.UpsertChunks(ctx, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexingFailed, err)
	}

	// The new generation is fully indexed; drop the old one.
	if err := c.store.DeleteStaleChunks(ctx, doc.ID, batchID); err != nil {
		slog.WarnContext(ctx, "failed to delete stale chunks", "document_id", doc.ID, "error", err)
	}

	c.invalidate(ctx, doc.Language)

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ObjectID
	}

	slog.InfoContext(ctx, "document ingested",
		"document_id", doc.ID,
		"chunks", len(records),
		"batch_id", batchID,
		"language", doc.Language)
	return ids, nil
}

func (c *Coordinator) invalidate(ctx context.Context, language string) {
	var err error
	if c.opts.PreciseInvalidation {
		err = c.invalidator.InvalidateLanguage(ctx, language)
	} else {
		err = c.invalidator.InvalidateAll(ctx)
	}
	if err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", "error", err)
	}
}
