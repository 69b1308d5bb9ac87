package retrieval

import "errors"

var (
	// ErrEmptyQuery is returned for requests with no query text.
	ErrEmptyQuery = errors.New("empty query")

	// ErrEmbeddingUnavailable is fatal to the query: nothing can be answered
	// without a query vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrIndexUnavailable is fatal to the query. The orchestrator never
	// substitutes an empty-but-successful response for a failed search.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
