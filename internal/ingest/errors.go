package ingest

import "errors"

var (
	ErrEmbeddingFailed = errors.New("chunk embedding failed")
	ErrIndexingFailed  = errors.New("chunk indexing failed")
)
