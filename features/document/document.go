package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"polyglotd/backend/internal/config"
	"polyglotd/backend/internal/ingest"
	"polyglotd/backend/internal/middleware"
	"polyglotd/backend/internal/retrieval"
	"polyglotd/backend/internal/worker"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document is the registry record for one ingested text. The body itself is
// stored alongside so async re-ingest never needs the client to resend it.
type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Site        string `json:"site"`
	Language    string `json:"language"`
	ContentType string `json:"content_type"`
	PublishedAt string `json:"published_at,omitempty"`
	BodyHash    string `json:"-"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

type Repository interface {
	Save(ctx context.Context, doc *Document, body string) error
	Get(ctx context.Context, id string) (*Document, error)
	GetByURL(ctx context.Context, url string) (*Document, error)
	GetBody(ctx context.Context, id string) (string, error)
	List(ctx context.Context) ([]Document, error)
	UpdateStatus(ctx context.Context, id, status, errMsg string) error
	UpdateAfterIngest(ctx context.Context, id, bodyHash string, chunkCount int) error
	SoftDelete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Ingestor is the chunk-embed-index pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, doc ingest.Document) ([]string, error)
}

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo     Repository
	ingestor Ingestor
	pub      EventPublisher
}

func NewService(repo Repository, ingestor Ingestor, pub EventPublisher) *Service {
	return &Service{repo: repo, ingestor: ingestor, pub: pub}
}

// IngestInput is a document plus its body as submitted by a client.
type IngestInput struct {
	Title       string
	URL         string
	Site        string
	Language    string
	ContentType string
	PublishedAt string
	Body        string
}

// IngestResult reports what a synchronous ingest did. Skipped is true when
// the document body is unchanged since the last successful ingest.
type IngestResult struct {
	Document *Document `json:"document"`
	ChunkIDs []string  `json:"chunk_ids"`
	Skipped  bool      `json:"skipped"`
}

// Ingest registers (or refreshes) a document and runs the indexing pipeline
// synchronously. Re-submitting an unchanged body is a no-op.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	bodyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(in.Body)))

	existing, err := s.repo.GetByURL(ctx, in.URL)
	if err == nil && existing != nil &&
		existing.BodyHash == bodyHash && existing.Status == StatusCompleted {
		slog.InfoContext(ctx, "document unchanged, skipping ingest", "id", existing.ID, "url", in.URL)
		return &IngestResult{Document: existing, Skipped: true}, nil
	}

	doc := &Document{
		Title:       in.Title,
		URL:         in.URL,
		Site:        in.Site,
		Language:    retrieval.NormalizeLanguage(in.Language),
		ContentType: in.ContentType,
		PublishedAt: in.PublishedAt,
		Status:      StatusProcessing,
	}
	if err := s.repo.Save(ctx, doc, in.Body); err != nil {
		return nil, fmt.Errorf("failed to save document: %w", err)
	}

	chunkIDs, err := s.runPipeline(ctx, doc, in.Body, bodyHash)
	if err != nil {
		return nil, err
	}

	doc.Status = StatusCompleted
	doc.ChunkCount = len(chunkIDs)
	return &IngestResult{Document: doc, ChunkIDs: chunkIDs}, nil
}

// ProcessTask is the async counterpart of Ingest, driven by the NSQ consumer.
func (s *Service) ProcessTask(ctx context.Context, task worker.IngestTaskPayload) (int, error) {
	doc, err := s.repo.Get(ctx, task.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("failed to load document: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, doc.ID, StatusProcessing, ""); err != nil {
		slog.WarnContext(ctx, "failed to mark document processing", "id", doc.ID, "error", err)
	}

	bodyHash := fmt.Sprintf("%x", sha256.Sum256([]byte(task.Body)))
	chunkIDs, err := s.runPipeline(ctx, doc, task.Body, bodyHash)
	if err != nil {
		return 0, err
	}
	return len(chunkIDs), nil
}

// runPipeline executes the indexing pipeline and records the outcome on the
// registry row.
func (s *Service) runPipeline(ctx context.Context, doc *Document, body, bodyHash string) ([]string, error) {
	var publishedAt time.Time
	if doc.PublishedAt != "" {
		publishedAt, _ = time.Parse(time.RFC3339, doc.PublishedAt)
	}

	chunkIDs, err := s.ingestor.Ingest(ctx, ingest.Document{
		ID:          doc.ID,
		Title:       doc.Title,
		URL:         doc.URL,
		Site:        doc.Site,
		Language:    doc.Language,
		ContentType: doc.ContentType,
		PublishedAt: publishedAt,
		Body:        body,
	})
	if err != nil {
		if updErr := s.repo.UpdateStatus(ctx, doc.ID, StatusFailed, err.Error()); updErr != nil {
			slog.WarnContext(ctx, "failed to mark document failed", "id", doc.ID, "error", updErr)
		}
		return nil, err
	}

	if err := s.repo.UpdateAfterIngest(ctx, doc.ID, bodyHash, len(chunkIDs)); err != nil {
		slog.WarnContext(ctx, "failed to record ingest outcome", "id", doc.ID, "error", err)
	}
	return chunkIDs, nil
}

// Reingest queues an async re-run of the pipeline using the stored body.
func (s *Service) Reingest(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	body, err := s.repo.GetBody(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load document body: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, id, StatusPending, ""); err != nil {
		return err
	}

	payload, _ := json.Marshal(worker.IngestTaskPayload{
		DocumentID:    doc.ID,
		Title:         doc.Title,
		URL:           doc.URL,
		Site:          doc.Site,
		Language:      doc.Language,
		ContentType:   doc.ContentType,
		PublishedAt:   doc.PublishedAt,
		Body:          body,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err := s.pub.Publish(config.TopicIngestTask, payload); err != nil {
		return fmt.Errorf("failed to publish ingest task: %w", err)
	}
	slog.InfoContext(ctx, "queued reingest", "id", doc.ID, "url", doc.URL)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Document, error) {
	return s.repo.List(ctx)
}

// Delete removes the document's chunks from the index, flushes affected cache
// entries and soft-deletes the registry row.
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// An empty body is the pipeline's removal signal.
	if _, err := s.ingestor.Ingest(ctx, ingest.Document{ID: doc.ID, Language: doc.Language}); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}
