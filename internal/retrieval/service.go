package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"polyglotd/backend/internal/middleware"
	"polyglotd/backend/internal/settings"
)

// Options is per-process retrieval configuration, resolved once at startup
// and passed by value. Runtime-tunable defaults (alpha, top-K) come from the
// settings service at request entry.
type Options struct {
	OverfetchK      int
	RerankK         int
	MaxContextChars int
	CacheTTL        time.Duration
	EmbedTimeout    time.Duration
	SearchTimeout   time.Duration
	RerankTimeout   time.Duration
}

// Service coordinates the retrieval pipeline: cache lookup, single-flight
// de-duplication, embed, search, rerank and context assembly. All external
// collaborators are injected at construction; the service must not be used
// before its dependencies have finished their own initialization.
type Service struct {
	embedder Embedder
	store    VectorStore
	reranker Reranker
	cache    Cache
	settings *settings.Service
	logger   *QueryLogger
	opts     Options
	group    singleflight.Group
}

func NewService(e Embedder, s VectorStore, r Reranker, c Cache, set *settings.Service, l *QueryLogger, opts Options) *Service {
	return &Service{embedder: e, store: s, reranker: r, cache: c, settings: set, logger: l, opts: opts}
}

// Retrieve answers one query. Concurrent requests sharing a fingerprint
// during a cache miss share a single embed-search-rerank computation; every
// waiter observes the same result (or the same error).
func (s *Service) Retrieve(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	s.applyDefaults(ctx, &req)
	fp := Fingerprint(req)

	if s.cache != nil {
		if resp, ok := s.cache.Get(ctx, req.Language, fp); ok {
			resp.ServedFromCache = true
			s.log(ctx, req, resp, true, time.Since(start))
			return resp, nil
		}
	}

	// The leader runs detached from any single caller's context: a
	// disconnecting caller must not kill the computation that other waiters
	// on this fingerprint are sharing.
	ch := s.group.DoChan(fp, func() (interface{}, error) {
		return s.execute(context.WithoutCancel(ctx), req, fp)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		resp := res.Val.(*Response)
		s.log(ctx, req, resp, false, time.Since(start))
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applyDefaults resolves configuration for this request exactly once, at
// entry. Fingerprinting happens after this so that an explicit parameter and
// its identical default share a cache entry.
func (s *Service) applyDefaults(ctx context.Context, req *Request) {
	req.Query = strings.TrimSpace(req.Query)
	req.Language = NormalizeLanguage(req.Language)

	alpha := float32(0.5)
	topK := s.opts.RerankK
	if s.settings != nil {
		if cfg, err := s.settings.Get(ctx); err == nil {
			alpha = cfg.SearchAlpha
			if cfg.SearchTopK > 0 {
				topK = cfg.SearchTopK
			}
		}
	}

	if req.Alpha == 0 {
		req.Alpha = alpha
	}
	if req.RerankK <= 0 {
		req.RerankK = topK
	}
	if req.OverfetchK <= 0 {
		req.OverfetchK = s.opts.OverfetchK
	}
	if req.OverfetchK < req.RerankK {
		req.OverfetchK = req.RerankK
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
}

// execute runs the miss path: EMBEDDING -> SEARCHING -> RERANKING ->
// ASSEMBLING -> CACHING. Embedding and search failures are fatal to the
// request; rerank and cache-write failures degrade.
func (s *Service) execute(ctx context.Context, req Request, fp string) (*Response, error) {
	ectx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	vec, modelVersion, err := s.embedder.Embed(ectx, req.Query)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	f := req.Filters
	f.Language = req.Language

	sctx, cancel := context.WithTimeout(ctx, s.opts.SearchTimeout)
	candidates, err := s.store.Search(sctx, req.Query, vec, req.Alpha, req.OverfetchK, f)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	ranked, degraded := s.rerank(ctx, req.Query, candidates)

	if req.Offset > 0 {
		if req.Offset >= len(ranked) {
			ranked = nil
		} else {
			ranked = ranked[req.Offset:]
		}
	}
	if len(ranked) > req.RerankK {
		ranked = ranked[:req.RerankK]
	}

	for i := range ranked {
		ranked[i].Snippet = ExtractSnippet(ranked[i].Content, req.Query, snippetMaxChars)
	}

	contextText, citations, confidence := BuildContext(ranked, s.opts.MaxContextChars)

	resp := &Response{
		Results:        ranked,
		Context:        contextText,
		Confidence:     confidence,
		Citations:      citations,
		RerankDegraded: degraded,
	}

	slog.DebugContext(ctx, "retrieval pipeline complete",
		"fingerprint", fp, "model_version", modelVersion,
		"candidates", len(candidates), "results", len(ranked), "rerank_degraded", degraded)

	if s.cache != nil {
		s.cache.Set(ctx, req.Language, fp, resp, s.opts.CacheTTL)
	}

	return resp, nil
}

// rerank reorders candidates through the cross-encoder and truncation happens
// in the caller. On any reranker failure the vector-search ordering is kept:
// reranking improves quality, it is not a correctness dependency.
func (s *Service) rerank(ctx context.Context, query string, candidates []Candidate) ([]RankedResult, bool) {
	base := make([]RankedResult, len(candidates))
	for i, c := range candidates {
		base[i] = RankedResult{Candidate: c, RerankScore: float64(c.Score)}
	}
	if s.reranker == nil || len(candidates) == 0 {
		return base, false
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	rctx, cancel := context.WithTimeout(ctx, s.opts.RerankTimeout)
	scored, err := s.reranker.Score(rctx, query, docs)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "reranker unavailable, keeping vector order", "error", err)
		return base, true
	}

	// Pure reordering: every candidate appears exactly once, its chunk
	// reference untouched. Candidates the reranker did not score keep their
	// vector order at the tail.
	seen := make(map[int]bool, len(scored))
	reranked := make([]RankedResult, 0, len(candidates))
	for _, sc := range scored {
		if sc.Index < 0 || sc.Index >= len(candidates) || seen[sc.Index] {
			continue
		}
		seen[sc.Index] = true
		reranked = append(reranked, RankedResult{Candidate: candidates[sc.Index], RerankScore: sc.Score})
	}
	for i, c := range candidates {
		if !seen[i] {
			reranked = append(reranked, RankedResult{Candidate: c, RerankScore: float64(c.Score)})
		}
	}
	return reranked, false
}

func (s *Service) log(ctx context.Context, req Request, resp *Response, cacheHit bool, dur time.Duration) {
	if s.logger == nil {
		return
	}
	s.logger.Log(QueryLogEntry{
		Query:          req.Query,
		Language:       req.Language,
		NumResults:     len(resp.Results),
		Confidence:     resp.Confidence,
		CacheHit:       cacheHit,
		RerankDegraded: resp.RerankDegraded,
		Duration:       dur,
		CorrelationID:  middleware.GetCorrelationID(ctx),
	})
}
