package document_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyglotd/backend/features/document"
)

func newMockRepo(t *testing.T) (*document.PostgresRepo, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return document.NewPostgresRepo(db), mock, db
}

func docRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "url", "site", "language", "content_type",
		"published_at", "body_hash", "status", "chunk_count", "error",
		"created_at", "updated_at",
	})
}

func TestPostgresRepo_Save(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO documents (title, url, site, language, content_type, published_at, body, status)")).
		WithArgs("Title", "https://example.com/a", "example.com", "en", "article", "", "body text", document.StatusProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("doc-1"))

	doc := &document.Document{
		Title:       "Title",
		URL:         "https://example.com/a",
		Site:        "example.com",
		Language:    "en",
		ContentType: "article",
		Status:      document.StatusProcessing,
	}
	err := repo.Save(context.Background(), doc, "body text")
	assert.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_Get(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	t.Run("Found", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM documents WHERE id = \\$1 AND deleted_at IS NULL").
			WithArgs("doc-1").
			WillReturnRows(docRows().AddRow(
				"doc-1", "Title", "https://example.com/a", "example.com", "en", "article",
				"2024-01-02T00:00:00Z", "abc123", "completed", 4, "",
				"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"))

		doc, err := repo.Get(context.Background(), "doc-1")
		assert.NoError(t, err)
		assert.Equal(t, "https://example.com/a", doc.URL)
		assert.Equal(t, 4, doc.ChunkCount)
	})

	t.Run("Not Found", func(t *testing.T) {
		mock.ExpectQuery("SELECT .+ FROM documents WHERE id = \\$1 AND deleted_at IS NULL").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Get(context.Background(), "missing")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPostgresRepo_GetByURL(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT .+ FROM documents WHERE url = \\$1 AND deleted_at IS NULL").
		WithArgs("https://example.com/a").
		WillReturnRows(docRows().AddRow(
			"doc-1", "Title", "https://example.com/a", "example.com", "en", "article",
			"", "abc123", "completed", 4, "",
			"2024-01-01T00:00:00Z", "2024-01-02T00:00:00Z"))

	doc, err := repo.GetByURL(context.Background(), "https://example.com/a")
	assert.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "abc123", doc.BodyHash)
}

func TestPostgresRepo_GetBody(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE id = $1 AND deleted_at IS NULL")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow("stored body"))

	body, err := repo.GetBody(context.Background(), "doc-1")
	assert.NoError(t, err)
	assert.Equal(t, "stored body", body)
}

func TestPostgresRepo_List(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery("SELECT .+ FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC").
		WillReturnRows(docRows().
			AddRow("doc-1", "A", "https://example.com/a", "example.com", "en", "article",
				"", "", "completed", 2, "", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z").
			AddRow("doc-2", "B", "https://example.com/b", "example.com", "de", "article",
				"", "", "failed", 0, "quota exceeded", "2024-01-01T00:00:00Z", "2024-01-01T00:00:00Z"))

	docs, err := repo.List(context.Background())
	assert.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "de", docs[1].Language)
	assert.Equal(t, "quota exceeded", docs[1].Error)
}

func TestPostgresRepo_UpdateStatus(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET status = $1, error = NULLIF($2, ''), updated_at = NOW() WHERE id = $3")).
		WithArgs("failed", "embedding quota", "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "doc-1", "failed", "embedding quota")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_UpdateAfterIngest(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET body_hash = $1, chunk_count = $2, status = 'completed', error = NULL, updated_at = NOW() WHERE id = $3")).
		WithArgs("abc123", 7, "doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAfterIngest(context.Background(), "doc-1", "abc123", 7)
	assert.NoError(t, err)
}

func TestPostgresRepo_SoftDelete(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documents SET deleted_at = NOW() WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SoftDelete(context.Background(), "doc-1")
	assert.NoError(t, err)
}

func TestPostgresRepo_Count(t *testing.T) {
	repo, mock, db := newMockRepo(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	count, err := repo.Count(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 12, count)
}
