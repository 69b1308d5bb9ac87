package retrieval

import (
	"context"
	"time"
)

// Request carries one retrieval query. OverfetchK is how many candidates the
// vector search returns for the reranker to work with; RerankK is the final
// result count.
type Request struct {
	Query      string  `json:"query"`
	Language   string  `json:"language,omitempty"`
	Filters    Filters `json:"filters,omitempty"`
	OverfetchK int     `json:"overfetch_k,omitempty"`
	RerankK    int     `json:"rerank_k,omitempty"`
	Offset     int     `json:"offset,omitempty"`
	Alpha      float32 `json:"alpha,omitempty"`
}

// Filters restricts search to chunks whose metadata matches. An empty field
// means no restriction on that axis.
type Filters struct {
	Language        string   `json:"-"`
	Sites           []string `json:"sites,omitempty"`
	ContentTypes    []string `json:"content_types,omitempty"`
	PublishedAfter  string   `json:"published_after,omitempty"`
	PublishedBefore string   `json:"published_before,omitempty"`
}

func (f Filters) IsZero() bool {
	return f.Language == "" && len(f.Sites) == 0 && len(f.ContentTypes) == 0 &&
		f.PublishedAfter == "" && f.PublishedBefore == ""
}

// Candidate is a chunk returned by vector search with its raw similarity
// score.
type Candidate struct {
	DocumentID  string  `json:"document_id"`
	ChunkIndex  int     `json:"chunk_index"`
	Content     string  `json:"content"`
	Title       string  `json:"title,omitempty"`
	URL         string  `json:"url,omitempty"`
	Site        string  `json:"site,omitempty"`
	Language    string  `json:"language,omitempty"`
	ContentType string  `json:"content_type,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
	Score       float32 `json:"score"`
}

// RankedResult is a candidate after reranking, with the snippet chosen for
// context assembly. Score holds the reranker score, or the vector similarity
// when reranking was skipped or degraded.
type RankedResult struct {
	Candidate
	RerankScore float64 `json:"rerank_score"`
	Snippet     string  `json:"snippet"`
}

// Citation maps a context marker [n] to its source attribution. Included is
// false for results that ranked but did not fit the context budget.
type Citation struct {
	Marker      int    `json:"marker"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Site        string `json:"site,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Included    bool   `json:"included"`
}

// Response is the assembled answer context for one query. Immutable once
// returned; cached copies carry ServedFromCache=true on replay.
type Response struct {
	Results         []RankedResult `json:"results"`
	Context         string         `json:"context"`
	Confidence      float64        `json:"confidence"`
	ServedFromCache bool           `json:"served_from_cache"`
	RerankDegraded  bool           `json:"rerank_degraded,omitempty"`
	Citations       []Citation     `json:"citations"`
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, string, error)
}

type VectorStore interface {
	Search(ctx context.Context, query string, vector []float32, alpha float32, limit int, f Filters) ([]Candidate, error)
}

// ScoredIndex is one reranker verdict: the candidate's position in the input
// slice and its relevance score.
type ScoredIndex struct {
	Index int
	Score float64
}

type Reranker interface {
	Score(ctx context.Context, query string, docs []string) ([]ScoredIndex, error)
}

// Cache is advisory: implementations must swallow backend failures and report
// a miss rather than surfacing an error into the query path.
type Cache interface {
	Get(ctx context.Context, language, fingerprint string) (*Response, bool)
	Set(ctx context.Context, language, fingerprint string, resp *Response, ttl time.Duration)
}
