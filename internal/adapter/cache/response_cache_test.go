package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyglotd/backend/internal/adapter/cache"
	"polyglotd/backend/internal/retrieval"
)

func TestMemoryStore(t *testing.T) {
	t.Run("Set Get Roundtrip", func(t *testing.T) {
		s := cache.NewMemoryStore()
		require.NoError(t, s.Set("en/abc", []byte("v"), time.Minute))
		data, ok, err := s.Get("en/abc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("v"), data)
	})

	t.Run("Expired Entry Is A Miss", func(t *testing.T) {
		s := cache.NewMemoryStore()
		require.NoError(t, s.Set("k", []byte("v"), -time.Second))
		_, ok, err := s.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DeleteByPrefix", func(t *testing.T) {
		s := cache.NewMemoryStore()
		require.NoError(t, s.Set("en/a", []byte("1"), time.Minute))
		require.NoError(t, s.Set("en/b", []byte("2"), time.Minute))
		require.NoError(t, s.Set("de/c", []byte("3"), time.Minute))

		require.NoError(t, s.DeleteByPrefix("en/"))

		_, ok, _ := s.Get("en/a")
		assert.False(t, ok)
		_, ok, _ = s.Get("de/c")
		assert.True(t, ok)

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Empty Prefix Deletes Everything", func(t *testing.T) {
		s := cache.NewMemoryStore()
		require.NoError(t, s.Set("en/a", []byte("1"), time.Minute))
		require.NoError(t, s.Set("de/b", []byte("2"), time.Minute))
		require.NoError(t, s.DeleteByPrefix(""))
		n, _ := s.Count()
		assert.Equal(t, 0, n)
	})
}

func TestBoltStore(t *testing.T) {
	newStore := func(t *testing.T) *cache.BoltStore {
		s, err := cache.NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("Set Get Roundtrip", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("en/abc", []byte(`{"x":1}`), time.Minute))
		data, ok, err := s.Get("en/abc")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.JSONEq(t, `{"x":1}`, string(data))
	})

	t.Run("Expired Entry Is A Miss", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("k", []byte(`"v"`), -time.Second))
		_, ok, err := s.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DeleteByPrefix", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set("en/a", []byte(`1`), time.Minute))
		require.NoError(t, s.Set("en/b", []byte(`2`), time.Minute))
		require.NoError(t, s.Set("de/c", []byte(`3`), time.Minute))

		require.NoError(t, s.DeleteByPrefix("en/"))

		n, err := s.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestResponseCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Roundtrip Preserves Response", func(t *testing.T) {
		c := cache.NewResponseCache(cache.NewMemoryStore())
		resp := &retrieval.Response{
			Context:    "[1] snippet",
			Confidence: 0.8,
			Results: []retrieval.RankedResult{
				{Candidate: retrieval.Candidate{DocumentID: "d1", Content: "text"}, RerankScore: 0.8, Snippet: "snippet"},
			},
			Citations: []retrieval.Citation{{Marker: 1, Included: true}},
		}
		c.Set(ctx, "en", "fp1", resp, time.Minute)

		got, ok := c.Get(ctx, "en", "fp1")
		require.True(t, ok)
		assert.Equal(t, resp.Context, got.Context)
		assert.Equal(t, resp.Confidence, got.Confidence)
		assert.Len(t, got.Results, 1)
	})

	t.Run("Different Fingerprints Are Independent", func(t *testing.T) {
		c := cache.NewResponseCache(cache.NewMemoryStore())
		c.Set(ctx, "en", "fp1", &retrieval.Response{Context: "one"}, time.Minute)
		c.Set(ctx, "en", "fp2", &retrieval.Response{Context: "two"}, time.Minute)

		a, ok := c.Get(ctx, "en", "fp1")
		require.True(t, ok)
		b, ok2 := c.Get(ctx, "en", "fp2")
		require.True(t, ok2)
		assert.NotEqual(t, a.Context, b.Context)
	})

	t.Run("InvalidateAll", func(t *testing.T) {
		c := cache.NewResponseCache(cache.NewMemoryStore())
		c.Set(ctx, "en", "fp1", &retrieval.Response{}, time.Minute)
		c.Set(ctx, "de", "fp2", &retrieval.Response{}, time.Minute)

		require.NoError(t, c.InvalidateAll(ctx))

		_, ok := c.Get(ctx, "en", "fp1")
		assert.False(t, ok)
		_, ok = c.Get(ctx, "de", "fp2")
		assert.False(t, ok)
	})

	t.Run("InvalidateLanguage Flushes Language And Unrestricted", func(t *testing.T) {
		c := cache.NewResponseCache(cache.NewMemoryStore())
		c.Set(ctx, "en", "fp1", &retrieval.Response{}, time.Minute)
		c.Set(ctx, "", "fp2", &retrieval.Response{}, time.Minute)
		c.Set(ctx, "de", "fp3", &retrieval.Response{}, time.Minute)

		require.NoError(t, c.InvalidateLanguage(ctx, "en"))

		_, ok := c.Get(ctx, "en", "fp1")
		assert.False(t, ok, "matching language must be flushed")
		_, ok = c.Get(ctx, "", "fp2")
		assert.False(t, ok, "entries with no language restriction must be flushed")
		_, ok = c.Get(ctx, "de", "fp3")
		assert.True(t, ok, "other languages stay")
	})

	t.Run("Backend Failure Degrades To Miss", func(t *testing.T) {
		c := cache.NewResponseCache(&failingStore{})
		_, ok := c.Get(ctx, "en", "fp")
		assert.False(t, ok)
		// Set must not panic either.
		c.Set(ctx, "en", "fp", &retrieval.Response{}, time.Minute)
	})
}

type failingStore struct{}

func (f *failingStore) Get(string) ([]byte, bool, error) { return nil, false, errors.New("down") }
func (f *failingStore) Set(string, []byte, time.Duration) error {
	return errors.New("down")
}
func (f *failingStore) DeleteByPrefix(string) error { return errors.New("down") }
func (f *failingStore) Count() (int, error)         { return 0, errors.New("down") }
func (f *failingStore) Close() error                { return nil }
