package weaviate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"polyglotd/backend/internal/ingest"
	"polyglotd/backend/internal/retrieval"
)

const className = "DocumentChunk"

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// UpsertChunks indexes a batch of chunks. Object IDs are fresh UUIDs chosen
// by the coordinator, so this never collides with a previous generation of
// the same document.
func (s *Store) UpsertChunks(ctx context.Context, chunks []ingest.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	batcher := s.client.Batch().ObjectsBatcher()
	for _, chunk := range chunks {
		props := map[string]interface{}{
			"content":      chunk.Content,
			"documentId":   chunk.DocumentID,
			"chunkIndex":   chunk.ChunkIndex,
			"batchId":      chunk.BatchID,
			"title":        chunk.Title,
			"url":          chunk.URL,
			"site":         chunk.Site,
			"language":     chunk.Language,
			"contentType":  chunk.ContentType,
			"modelVersion": chunk.ModelVersion,
			"tokenCount":   chunk.TokenCount,
		}
		if !chunk.PublishedAt.IsZero() {
			props["publishedAt"] = chunk.PublishedAt.Format(time.RFC3339)
		}
		batcher = batcher.WithObjects(&models.Object{
			Class:      className,
			ID:         strfmt.UUID(chunk.ObjectID),
			Properties: props,
			Vector:     chunk.Vector,
		})
	}

	res, err := batcher.Do(ctx)
	if err != nil {
		return err
	}
	for _, obj := range res {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch insert error: %v", obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueString(documentID)).
		Do(ctx)
	return err
}

func (s *Store) DeleteStaleChunks(ctx context.Context, documentID, keepBatch string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(className).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"documentId"}).
					WithOperator(filters.Equal).
					WithValueString(documentID),
				filters.Where().
					WithPath([]string{"batchId"}).
					WithOperator(filters.NotEqual).
					WithValueString(keepBatch),
			})).
		Do(ctx)
	return err
}

func (s *Store) Search(ctx context.Context, query string, vector []float32, alpha float32, limit int, f retrieval.Filters) ([]retrieval.Candidate, error) {
	hybrid := s.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithVector(vector).
		WithAlpha(alpha)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "documentId"},
		{Name: "chunkIndex"},
		{Name: "title"},
		{Name: "url"},
		{Name: "site"},
		{Name: "language"},
		{Name: "contentType"},
		{Name: "publishedAt"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "score"}}},
	}

	builder := s.client.GraphQL().Get().
		WithClassName(className).
		WithHybrid(hybrid).
		WithLimit(limit).
		WithFields(fields...)

	if where := buildWhere(f); where != nil {
		builder = builder.WithWhere(where)
	}

	res, err := builder.Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors)
	}

	var results []retrieval.Candidate
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	chunks, ok := data[className].([]interface{})
	if !ok {
		return results, nil
	}

	for _, c := range chunks {
		props, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		cand := retrieval.Candidate{}
		if v, ok := props["content"].(string); ok {
			cand.Content = v
		}
		if v, ok := props["documentId"].(string); ok {
			cand.DocumentID = v
		}
		if v, ok := props["chunkIndex"].(float64); ok {
			cand.ChunkIndex = int(v)
		}
		if v, ok := props["title"].(string); ok {
			cand.Title = v
		}
		if v, ok := props["url"].(string); ok {
			cand.URL = v
		}
		if v, ok := props["site"].(string); ok {
			cand.Site = v
		}
		if v, ok := props["language"].(string); ok {
			cand.Language = v
		}
		if v, ok := props["contentType"].(string); ok {
			cand.ContentType = v
		}
		if v, ok := props["publishedAt"].(string); ok {
			cand.PublishedAt = v
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			// Hybrid scores come back as strings from the GraphQL layer.
			if score, ok := additional["score"].(string); ok {
				var fScore float64
				fmt.Sscanf(score, "%f", &fScore)
				cand.Score = float32(fScore)
			} else if score, ok := additional["score"].(float64); ok {
				cand.Score = float32(score)
			}
		}
		results = append(results, cand)
	}

	return results, nil
}

// CountChunks reports the total number of indexed chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors)
	}

	if data, ok := res.Data["Aggregate"].(map[string]interface{}); ok {
		if classes, ok := data[className].([]interface{}); ok && len(classes) > 0 {
			if agg, ok := classes[0].(map[string]interface{}); ok {
				if meta, ok := agg["meta"].(map[string]interface{}); ok {
					if count, ok := meta["count"].(float64); ok {
						return int(count), nil
					}
				}
			}
		}
	}
	return 0, nil
}

func buildWhere(f retrieval.Filters) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder

	if f.Language != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"language"}).
			WithOperator(filters.Equal).
			WithValueString(f.Language))
	}

	if len(f.Sites) == 1 {
		operands = append(operands, filters.Where().
			WithPath([]string{"site"}).
			WithOperator(filters.Equal).
			WithValueString(f.Sites[0]))
	} else if len(f.Sites) > 1 {
		operands = append(operands, anyOf("site", f.Sites))
	}

	if len(f.ContentTypes) == 1 {
		operands = append(operands, filters.Where().
			WithPath([]string{"contentType"}).
			WithOperator(filters.Equal).
			WithValueString(f.ContentTypes[0]))
	} else if len(f.ContentTypes) > 1 {
		operands = append(operands, anyOf("contentType", f.ContentTypes))
	}

	if ts, err := time.Parse(time.RFC3339, f.PublishedAfter); err == nil {
		operands = append(operands, filters.Where().
			WithPath([]string{"publishedAt"}).
			WithOperator(filters.GreaterThanEqual).
			WithValueDate(ts))
	}
	if ts, err := time.Parse(time.RFC3339, f.PublishedBefore); err == nil {
		operands = append(operands, filters.Where().
			WithPath([]string{"publishedAt"}).
			WithOperator(filters.LessThanEqual).
			WithValueDate(ts))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().
			WithOperator(filters.And).
			WithOperands(operands)
	}
}

func anyOf(path string, values []string) *filters.WhereBuilder {
	operands := make([]*filters.WhereBuilder, len(values))
	for i, v := range values {
		operands[i] = filters.Where().
			WithPath([]string{path}).
			WithOperator(filters.Equal).
			WithValueString(v)
	}
	return filters.Where().
		WithOperator(filters.Or).
		WithOperands(operands)
}
