package ingest

import (
	"context"
	"time"
)

// Document is the unit of ingestion. Body is the full plain text; the
// remaining fields are denormalized onto every chunk so search filters
// never need a join.
type Document struct {
	ID          string
	Title       string
	URL         string
	Site        string
	Language    string
	ContentType string
	PublishedAt time.Time
	Body        string
}

// ChunkRecord is one embedded chunk ready for indexing.
type ChunkRecord struct {
	ObjectID     string
	DocumentID   string
	ChunkIndex   int
	BatchID      string
	Content      string
	Vector       []float32
	TokenCount   int
	ModelVersion string

	Title       string
	URL         string
	Site        string
	Language    string
	ContentType string
	PublishedAt time.Time
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error)
}

type ChunkStore interface {
	UpsertChunks(ctx context.Context, chunks []ChunkRecord) error
	DeleteByDocument(ctx context.Context, documentID string) error
	// DeleteStaleChunks removes every chunk of the document whose batch tag
	// differs from keepBatch. Called after a successful re-ingest so the old
	// generation disappears only once the new one is fully indexed.
	DeleteStaleChunks(ctx context.Context, documentID, keepBatch string) error
}

type Invalidator interface {
	InvalidateAll(ctx context.Context) error
	InvalidateLanguage(ctx context.Context, language string) error
}
