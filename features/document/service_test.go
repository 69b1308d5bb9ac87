package document

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"polyglotd/backend/internal/config"
	"polyglotd/backend/internal/ingest"
	"polyglotd/backend/internal/worker"
)

// --- Mocks ---

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Save(ctx context.Context, doc *Document, body string) error {
	args := m.Called(ctx, doc, body)
	if args.Error(0) == nil && doc.ID == "" {
		doc.ID = "doc-1"
	}
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, id string) (*Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Document), args.Error(1)
}

func (m *MockRepository) GetByURL(ctx context.Context, url string) (*Document, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Document), args.Error(1)
}

func (m *MockRepository) GetBody(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockRepository) List(ctx context.Context) ([]Document, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *MockRepository) UpdateAfterIngest(ctx context.Context, id, bodyHash string, chunkCount int) error {
	args := m.Called(ctx, id, bodyHash, chunkCount)
	return args.Error(0)
}

func (m *MockRepository) SoftDelete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockIngestor struct {
	mock.Mock
}

func (m *MockIngestor) Ingest(ctx context.Context, doc ingest.Document) ([]string, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func bodyHashOf(body string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(body)))
}

// --- Tests ---

func TestService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("New Document", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		repo.On("GetByURL", ctx, "https://example.com/a").Return(nil, errors.New("no rows"))
		repo.On("Save", ctx, mock.Anything, "body text").Return(nil)
		ingestor.On("Ingest", ctx, mock.MatchedBy(func(d ingest.Document) bool {
			return d.ID == "doc-1" && d.Body == "body text" && d.Language == "en"
		})).Return([]string{"c1", "c2"}, nil)
		repo.On("UpdateAfterIngest", ctx, "doc-1", bodyHashOf("body text"), 2).Return(nil)

		result, err := svc.Ingest(ctx, IngestInput{URL: "https://example.com/a", Language: "EN", Body: "body text"})
		assert.NoError(t, err)
		assert.False(t, result.Skipped)
		assert.Equal(t, []string{"c1", "c2"}, result.ChunkIDs)
		assert.Equal(t, StatusCompleted, result.Document.Status)
		assert.Equal(t, 2, result.Document.ChunkCount)
		repo.AssertExpectations(t)
		ingestor.AssertExpectations(t)
	})

	t.Run("Unchanged Body Skipped", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		existing := &Document{ID: "doc-1", URL: "https://example.com/a", BodyHash: bodyHashOf("same body"), Status: StatusCompleted}
		repo.On("GetByURL", ctx, "https://example.com/a").Return(existing, nil)

		result, err := svc.Ingest(ctx, IngestInput{URL: "https://example.com/a", Body: "same body"})
		assert.NoError(t, err)
		assert.True(t, result.Skipped)
		ingestor.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("Changed Body Reingested", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		existing := &Document{ID: "doc-1", URL: "https://example.com/a", BodyHash: bodyHashOf("old body"), Status: StatusCompleted}
		repo.On("GetByURL", ctx, "https://example.com/a").Return(existing, nil)
		repo.On("Save", ctx, mock.Anything, "new body").Return(nil)
		ingestor.On("Ingest", ctx, mock.Anything).Return([]string{"c1"}, nil)
		repo.On("UpdateAfterIngest", ctx, "doc-1", bodyHashOf("new body"), 1).Return(nil)

		result, err := svc.Ingest(ctx, IngestInput{URL: "https://example.com/a", Body: "new body"})
		assert.NoError(t, err)
		assert.False(t, result.Skipped)
		ingestor.AssertExpectations(t)
	})

	t.Run("Pipeline Failure Marks Document Failed", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		repo.On("GetByURL", ctx, "https://example.com/a").Return(nil, errors.New("no rows"))
		repo.On("Save", ctx, mock.Anything, "body").Return(nil)
		ingestor.On("Ingest", ctx, mock.Anything).Return(nil, errors.New("embedding quota"))
		repo.On("UpdateStatus", ctx, "doc-1", StatusFailed, "embedding quota").Return(nil)

		_, err := svc.Ingest(ctx, IngestInput{URL: "https://example.com/a", Body: "body"})
		assert.Error(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("Missing URL Rejected", func(t *testing.T) {
		svc := NewService(new(MockRepository), new(MockIngestor), new(MockPublisher))
		_, err := svc.Ingest(ctx, IngestInput{Body: "body"})
		assert.Error(t, err)
	})
}

func TestService_Reingest(t *testing.T) {
	ctx := context.Background()

	t.Run("Publishes Task With Stored Body", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		svc := NewService(repo, new(MockIngestor), pub)

		doc := &Document{ID: "doc-1", URL: "https://example.com/a", Language: "de"}
		repo.On("Get", ctx, "doc-1").Return(doc, nil)
		repo.On("GetBody", ctx, "doc-1").Return("stored body", nil)
		repo.On("UpdateStatus", ctx, "doc-1", StatusPending, "").Return(nil)
		pub.On("Publish", config.TopicIngestTask, mock.MatchedBy(func(body []byte) bool {
			var p worker.IngestTaskPayload
			if err := json.Unmarshal(body, &p); err != nil {
				return false
			}
			return p.DocumentID == "doc-1" && p.Body == "stored body" && p.Language == "de"
		})).Return(nil)

		err := svc.Reingest(ctx, "doc-1")
		assert.NoError(t, err)
		pub.AssertExpectations(t)
	})

	t.Run("Publish Failure Propagates", func(t *testing.T) {
		repo := new(MockRepository)
		pub := new(MockPublisher)
		svc := NewService(repo, new(MockIngestor), pub)

		repo.On("Get", ctx, "doc-1").Return(&Document{ID: "doc-1"}, nil)
		repo.On("GetBody", ctx, "doc-1").Return("body", nil)
		repo.On("UpdateStatus", ctx, "doc-1", StatusPending, "").Return(nil)
		pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsqd down"))

		err := svc.Reingest(ctx, "doc-1")
		assert.Error(t, err)
	})
}

func TestService_ProcessTask(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		doc := &Document{ID: "doc-1", URL: "https://example.com/a", Language: "en"}
		repo.On("Get", ctx, "doc-1").Return(doc, nil)
		repo.On("UpdateStatus", ctx, "doc-1", StatusProcessing, "").Return(nil)
		ingestor.On("Ingest", ctx, mock.Anything).Return([]string{"c1", "c2", "c3"}, nil)
		repo.On("UpdateAfterIngest", ctx, "doc-1", bodyHashOf("task body"), 3).Return(nil)

		count, err := svc.ProcessTask(ctx, worker.IngestTaskPayload{DocumentID: "doc-1", Body: "task body"})
		assert.NoError(t, err)
		assert.Equal(t, 3, count)
	})

	t.Run("Unknown Document", func(t *testing.T) {
		repo := new(MockRepository)
		svc := NewService(repo, new(MockIngestor), new(MockPublisher))

		repo.On("Get", ctx, "missing").Return(nil, errors.New("no rows"))

		_, err := svc.ProcessTask(ctx, worker.IngestTaskPayload{DocumentID: "missing", Body: "b"})
		assert.Error(t, err)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("Removes Chunks Then Soft Deletes", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		repo.On("Get", ctx, "doc-1").Return(&Document{ID: "doc-1", Language: "en"}, nil)
		ingestor.On("Ingest", ctx, mock.MatchedBy(func(d ingest.Document) bool {
			return d.ID == "doc-1" && d.Body == "" && d.Language == "en"
		})).Return(nil, nil)
		repo.On("SoftDelete", ctx, "doc-1").Return(nil)

		err := svc.Delete(ctx, "doc-1")
		assert.NoError(t, err)
		repo.AssertExpectations(t)
		ingestor.AssertExpectations(t)
	})

	t.Run("Index Failure Keeps Registry Row", func(t *testing.T) {
		repo := new(MockRepository)
		ingestor := new(MockIngestor)
		svc := NewService(repo, ingestor, new(MockPublisher))

		repo.On("Get", ctx, "doc-1").Return(&Document{ID: "doc-1"}, nil)
		ingestor.On("Ingest", ctx, mock.Anything).Return(nil, errors.New("weaviate down"))

		err := svc.Delete(ctx, "doc-1")
		assert.Error(t, err)
		repo.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything)
	})
}
