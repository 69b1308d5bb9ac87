package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"polyglotd/backend/internal/settings"
)

const embeddingModel = "gemini-embedding-001"

// Embedder produces dense vectors via the Gemini embedding API. The API key
// is resolved from runtime settings on every call, so a key rotated through
// the settings endpoint takes effect without a restart.
type Embedder struct {
	settingsSvc *settings.Service
	client      *genai.Client
	currentKey  string
	mu          sync.RWMutex
	clientOpts  []option.ClientOption
}

func NewEmbedder(svc *settings.Service, opts ...option.ClientOption) *Embedder {
	return &Embedder{
		settingsSvc: svc,
		clientOpts:  opts,
	}
}

// ModelVersion identifies the embedding model currently in use. Chunks are
// tagged with this so stale vectors can be detected after a model upgrade.
func (e *Embedder) ModelVersion() string {
	return embeddingModel
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, string, error) {
	client, err := e.resolveClient(ctx)
	if err != nil {
		return nil, "", err
	}

	slog.DebugContext(ctx, "embedding content", "model", embeddingModel, "length", len(text))
	em := client.EmbeddingModel(embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, "", err
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, "", fmt.Errorf("empty embedding received")
	}
	return res.Embedding.Values, embeddingModel, nil
}

// EmbedBatch embeds texts in a single API round trip. The returned vectors
// are in input order; any failure fails the whole batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, string, error) {
	if len(texts) == 0 {
		return nil, embeddingModel, nil
	}

	client, err := e.resolveClient(ctx)
	if err != nil {
		return nil, "", err
	}

	slog.DebugContext(ctx, "embedding batch", "model", embeddingModel, "count", len(texts))
	em := client.EmbeddingModel(embeddingModel)
	batch := em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, "", err
	}
	if len(res.Embeddings) != len(texts) {
		return nil, "", fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(res.Embeddings))
	}

	vectors := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, "", fmt.Errorf("empty embedding received for input %d", i)
		}
		vectors[i] = emb.Values
	}
	return vectors, embeddingModel, nil
}

func (e *Embedder) resolveClient(ctx context.Context) (*genai.Client, error) {
	s, err := e.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	return e.getClient(ctx, s.GeminiAPIKey)
}

func (e *Embedder) getClient(ctx context.Context, key string) (*genai.Client, error) {
	e.mu.RLock()
	if e.client != nil && e.currentKey == key {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if e.client != nil && e.currentKey == key {
		return e.client, nil
	}

	if e.client != nil {
		if err := e.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(e.clientOpts, option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	e.client = client
	e.currentKey = key
	return client, nil
}
