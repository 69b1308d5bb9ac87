package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"polyglotd/backend/internal/retrieval"
)

// ResponseCache maps request fingerprints to serialized retrieval responses.
// It is advisory: every backend failure degrades to a miss, never to a query
// error. Keys are segmented by language tag so precise invalidation can flush
// one language's entries without touching the rest.
type ResponseCache struct {
	store Store
}

func NewResponseCache(store Store) *ResponseCache {
	return &ResponseCache{store: store}
}

func cacheKey(language, fingerprint string) string {
	if language == "" {
		language = "any"
	}
	return language + "/" + fingerprint
}

func (c *ResponseCache) Get(ctx context.Context, language, fingerprint string) (*retrieval.Response, bool) {
	data, ok, err := c.store.Get(cacheKey(language, fingerprint))
	if err != nil {
		slog.WarnContext(ctx, "cache read failed, treating as miss", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var resp retrieval.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		slog.WarnContext(ctx, "cache entry corrupt, treating as miss", "error", err)
		return nil, false
	}
	return &resp, true
}

func (c *ResponseCache) Set(ctx context.Context, language, fingerprint string, resp *retrieval.Response, ttl time.Duration) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.WarnContext(ctx, "cache marshal failed", "error", err)
		return
	}
	if err := c.store.Set(cacheKey(language, fingerprint), data, ttl); err != nil {
		// CACHE_WRITE_FAILED is non-fatal: the caller still gets the result.
		slog.WarnContext(ctx, "cache write failed", "error", err)
	}
}

// InvalidateAll flushes every cached response. This is the conservative
// default on ingest: any document can shift hybrid rankings globally.
func (c *ResponseCache) InvalidateAll(ctx context.Context) error {
	err := c.store.DeleteByPrefix("")
	if err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", "error", err)
	}
	return err
}

// InvalidateLanguage flushes entries for one language plus the entries with
// no language restriction, which could have matched the ingested document.
func (c *ResponseCache) InvalidateLanguage(ctx context.Context, language string) error {
	if language == "" {
		return c.InvalidateAll(ctx)
	}
	if err := c.store.DeleteByPrefix(language + "/"); err != nil {
		slog.WarnContext(ctx, "cache invalidation failed", "language", language, "error", err)
		return err
	}
	return c.store.DeleteByPrefix("any/")
}

func (c *ResponseCache) Count(ctx context.Context) (int, error) {
	return c.store.Count()
}
