package document

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const docColumns = `id, title, url, site, language, content_type,
	COALESCE(to_char(published_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"'), ''),
	COALESCE(body_hash, ''), status, chunk_count, COALESCE(error, ''),
	to_char(created_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
	to_char(updated_at, 'YYYY-MM-DD"T"HH24:MI:SS"Z"')`

func (r *PostgresRepo) Save(ctx context.Context, doc *Document, body string) error {
	query := `INSERT INTO documents (title, url, site, language, content_type, published_at, body, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::timestamptz, $7, $8)
		ON CONFLICT (url) WHERE deleted_at IS NULL DO UPDATE SET
			title = EXCLUDED.title,
			site = EXCLUDED.site,
			language = EXCLUDED.language,
			content_type = EXCLUDED.content_type,
			published_at = EXCLUDED.published_at,
			body = EXCLUDED.body,
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING id`
	return r.db.QueryRowContext(ctx, query,
		doc.Title, doc.URL, doc.Site, doc.Language, doc.ContentType, doc.PublishedAt, body, doc.Status).
		Scan(&doc.ID)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepo) GetByURL(ctx context.Context, url string) (*Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE url = $1 AND deleted_at IS NULL`
	return r.scanOne(r.db.QueryRowContext(ctx, query, url))
}

func (r *PostgresRepo) GetBody(ctx context.Context, id string) (string, error) {
	var body string
	query := `SELECT body FROM documents WHERE id = $1 AND deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&body)
	return body, err
}

func (r *PostgresRepo) List(ctx context.Context) ([]Document, error) {
	query := `SELECT ` + docColumns + ` FROM documents WHERE deleted_at IS NULL ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.URL, &d.Site, &d.Language, &d.ContentType,
			&d.PublishedAt, &d.BodyHash, &d.Status, &d.ChunkCount, &d.Error,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	query := `UPDATE documents SET status = $1, error = NULLIF($2, ''), updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, status, errMsg, id)
	return err
}

func (r *PostgresRepo) UpdateAfterIngest(ctx context.Context, id, bodyHash string, chunkCount int) error {
	query := `UPDATE documents SET body_hash = $1, chunk_count = $2, status = 'completed', error = NULL, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, bodyHash, chunkCount, id)
	return err
}

func (r *PostgresRepo) SoftDelete(ctx context.Context, id string) error {
	query := `UPDATE documents SET deleted_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM documents WHERE deleted_at IS NULL`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

func (r *PostgresRepo) scanOne(row *sql.Row) (*Document, error) {
	d := &Document{}
	err := row.Scan(&d.ID, &d.Title, &d.URL, &d.Site, &d.Language, &d.ContentType,
		&d.PublishedAt, &d.BodyHash, &d.Status, &d.ChunkCount, &d.Error,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}
