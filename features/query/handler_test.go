package query_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"polyglotd/backend/features/query"
	"polyglotd/backend/internal/retrieval"
)

type MockRetriever struct {
	mock.Mock
}

func (m *MockRetriever) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*retrieval.Response), args.Error(1)
}

func TestHandler_Query(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		retriever := new(MockRetriever)
		handler := query.NewHandler(retriever)

		resp := &retrieval.Response{
			Results:    []retrieval.RankedResult{{Snippet: "a snippet"}},
			Context:    "[1] a snippet",
			Confidence: 0.8,
		}
		retriever.On("Retrieve", mock.Anything, mock.MatchedBy(func(req retrieval.Request) bool {
			return req.Query == "how do i reset my password" && req.Language == "de"
		})).Return(resp, nil)

		req := httptest.NewRequest("POST", "/query",
			strings.NewReader(`{"query":"how do i reset my password","language":"de"}`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Data retrieval.Response `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "[1] a snippet", body.Data.Context)
		assert.InDelta(t, 0.8, body.Data.Confidence, 0.001)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		handler := query.NewHandler(new(MockRetriever))

		req := httptest.NewRequest("POST", "/query", strings.NewReader(`{broken`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Empty Query", func(t *testing.T) {
		retriever := new(MockRetriever)
		handler := query.NewHandler(retriever)

		retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrEmptyQuery)

		req := httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":""}`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("Embedding Unavailable", func(t *testing.T) {
		retriever := new(MockRetriever)
		handler := query.NewHandler(retriever)

		retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrEmbeddingUnavailable)

		req := httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":"q"}`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Contains(t, w.Body.String(), "EMBEDDING_UNAVAILABLE")
	})

	t.Run("Index Unavailable", func(t *testing.T) {
		retriever := new(MockRetriever)
		handler := query.NewHandler(retriever)

		retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, retrieval.ErrIndexUnavailable)

		req := httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":"q"}`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Client Cancellation Writes Nothing", func(t *testing.T) {
		retriever := new(MockRetriever)
		handler := query.NewHandler(retriever)

		retriever.On("Retrieve", mock.Anything, mock.Anything).Return(nil, context.Canceled)

		req := httptest.NewRequest("POST", "/query", strings.NewReader(`{"query":"q"}`))
		w := httptest.NewRecorder()

		handler.Query(w, req)

		assert.Equal(t, http.StatusOK, w.Code) // recorder default, nothing written
		assert.Empty(t, w.Body.String())
	})
}
