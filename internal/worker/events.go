package worker

// IngestTaskPayload is the message published to the ingest task topic. It
// carries the full document body so the consumer never reads back through the
// API tier.
type IngestTaskPayload struct {
	DocumentID    string `json:"document_id"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
	Site          string `json:"site,omitempty"`
	Language      string `json:"language,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	PublishedAt   string `json:"published_at,omitempty"`
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// IngestResultPayload reports the outcome of one ingest task.
type IngestResultPayload struct {
	DocumentID    string `json:"document_id"`
	Status        string `json:"status"`
	ChunkCount    int    `json:"chunk_count"`
	Error         string `json:"error,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
