package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"polyglotd/backend/features/job"
	"polyglotd/backend/internal/config"
	"polyglotd/backend/internal/middleware"
)

// DocumentIngestor runs the chunk-embed-index pipeline for one task and
// reports how many chunks were written.
type DocumentIngestor interface {
	ProcessTask(ctx context.Context, task IngestTaskPayload) (int, error)
}

type ResultPublisher interface {
	Publish(topic string, body []byte) error
}

// IngestConsumer processes ingest tasks from NSQ. Malformed messages are
// dropped rather than requeued; failed tasks are captured as failed jobs so
// they can be retried from the API.
type IngestConsumer struct {
	ingestor  DocumentIngestor
	jobRepo   job.Repository
	publisher ResultPublisher
}

func NewIngestConsumer(ingestor DocumentIngestor, jobRepo job.Repository, publisher ResultPublisher) *IngestConsumer {
	return &IngestConsumer{
		ingestor:  ingestor,
		jobRepo:   jobRepo,
		publisher: publisher,
	}
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestTaskPayload
	err := json.Unmarshal(m.Body, &payload)

	correlationID := payload.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx := context.Background()
	ctx = middleware.WithCorrelationID(ctx, correlationID)

	if err != nil {
		slog.ErrorContext(ctx, "invalid message format", "error", err)
		return nil // Don't retry invalid messages
	}

	if payload.DocumentID == "" {
		slog.ErrorContext(ctx, "missing document id, dropping")
		return nil
	}

	slog.InfoContext(ctx, "processing ingest task", "document_id", payload.DocumentID, "body_len", len(payload.Body))

	chunkCount, err := h.ingestor.ProcessTask(ctx, payload)
	if err != nil {
		slog.ErrorContext(ctx, "ingest task failed", "document_id", payload.DocumentID, "error", err)

		failedJob := &job.Job{
			DocumentID: payload.DocumentID,
			Handler:    "ingest-worker",
			Payload:    json.RawMessage(m.Body),
			Error:      err.Error(),
		}
		if saveErr := h.jobRepo.Save(ctx, failedJob); saveErr != nil {
			slog.ErrorContext(ctx, "failed to save failed job", "error", saveErr)
		} else {
			slog.InfoContext(ctx, "saved failed job for retry", "job_id", failedJob.ID)
		}

		h.publishResult(ctx, IngestResultPayload{
			DocumentID:    payload.DocumentID,
			Status:        "failed",
			Error:         err.Error(),
			CorrelationID: correlationID,
		})
		return nil
	}

	h.publishResult(ctx, IngestResultPayload{
		DocumentID:    payload.DocumentID,
		Status:        "completed",
		ChunkCount:    chunkCount,
		CorrelationID: correlationID,
	})
	return nil
}

func (h *IngestConsumer) publishResult(ctx context.Context, result IngestResultPayload) {
	body, _ := json.Marshal(result)
	if err := h.publisher.Publish(config.TopicIngestResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish ingest result", "error", err)
	}
}
