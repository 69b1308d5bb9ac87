package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"polyglotd/backend/features/document"
	"polyglotd/backend/features/job"
	"polyglotd/backend/features/query"
	"polyglotd/backend/features/stats"
	"polyglotd/backend/internal/adapter/cache"
	"polyglotd/backend/internal/adapter/gemini"
	"polyglotd/backend/internal/adapter/reranker"
	"polyglotd/backend/internal/config"
	"polyglotd/backend/internal/ingest"
	"polyglotd/backend/internal/middleware"
	"polyglotd/backend/internal/retrieval"
	"polyglotd/backend/internal/settings"
	"polyglotd/backend/internal/worker"
)

// Database is satisfied by *sql.DB and by sqlmock in tests.
type Database interface {
	PingContext(ctx context.Context) error
}

// VectorStore is the full chunk index surface the app wires together: the
// read side for retrieval, the write side for ingestion, and counting for
// stats.
type VectorStore interface {
	Search(ctx context.Context, query string, vector []float32, alpha float32, limit int, f retrieval.Filters) ([]retrieval.Candidate, error)
	UpsertChunks(ctx context.Context, chunks []ingest.ChunkRecord) error
	DeleteByDocument(ctx context.Context, documentID string) error
	DeleteStaleChunks(ctx context.Context, documentID, keepBatch string) error
	CountChunks(ctx context.Context) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler         http.Handler
	DocumentService *document.Service
	IngestConsumer  *worker.IngestConsumer

	port int
}

func New(
	cfg *config.Config,
	db Database,
	vecStore VectorStore,
	taskPub TaskPublisher,
	cacheStore cache.Store,
	logger *slog.Logger,
) (*App, error) {
	// Cast db to *sql.DB for repositories that require it.
	// This allows us to use interfaces in the signature (for mocking with sqlmock)
	// while maintaining compatibility with existing repositories.
	sqlDB := db.(*sql.DB)

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(sqlDB)
	settingsService := settings.NewService(settingsRepo)
	seedSettings(cfg, settingsService)
	settingsHandler := settings.NewHandler(settingsService)

	// Cache
	responseCache := cache.NewResponseCache(cacheStore)

	// Adapters
	embedder := gemini.NewEmbedder(settingsService)
	rerankClient := reranker.NewClient(settingsService, cfg.RerankProvider, cfg.RerankAPIKey)

	// Ingestion pipeline
	coordinator := ingest.NewCoordinator(embedder, vecStore, responseCache, ingest.Options{
		ChunkSizeTokens:     cfg.ChunkSizeTokens,
		ChunkOverlapTokens:  cfg.ChunkOverlapTokens,
		EmbedBatchSize:      cfg.EmbedBatchSize,
		PreciseInvalidation: cfg.CachePreciseInvalidation,
	})

	// Feature: Document
	documentRepo := document.NewPostgresRepo(sqlDB)
	documentService := document.NewService(documentRepo, coordinator, taskPub)
	documentHandler := document.NewHandler(documentService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(sqlDB)
	jobService := job.NewService(jobRepo, taskPub)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(documentRepo, jobRepo, vecStore, responseCache)

	// Feature: Query
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	retrievalService := retrieval.NewService(embedder, vecStore, rerankClient, responseCache, settingsService, queryLogger, retrieval.Options{
		OverfetchK:      cfg.OverfetchK,
		RerankK:         cfg.RerankK,
		MaxContextChars: cfg.MaxContextChars,
		CacheTTL:        cfg.CacheTTL(),
		EmbedTimeout:    cfg.EmbedTimeout(),
		SearchTimeout:   cfg.SearchTimeout(),
		RerankTimeout:   cfg.RerankTimeout(),
	})
	queryHandler := query.NewHandler(retrievalService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /documents", middleware.CorrelationID(enableCORS(documentHandler.Ingest)))
	mux.Handle("GET /documents", middleware.CorrelationID(enableCORS(documentHandler.List)))
	mux.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Get)))
	mux.Handle("DELETE /documents/{id}", middleware.CorrelationID(enableCORS(documentHandler.Delete)))
	mux.Handle("POST /documents/{id}/reingest", middleware.CorrelationID(enableCORS(documentHandler.Reingest)))

	mux.Handle("POST /query", middleware.CorrelationID(enableCORS(queryHandler.Query)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Worker (Ingest Consumer)
	ingestConsumer := worker.NewIngestConsumer(documentService, jobRepo, taskPub)

	return &App{
		Handler:         mux,
		DocumentService: documentService,
		IngestConsumer:  ingestConsumer,
		port:            cfg.ServerPort,
	}, nil
}

// seedSettings copies API keys from the environment into the settings row so
// a fresh deployment works before anyone touches the settings endpoint. Keys
// already set through the API win.
func seedSettings(cfg *config.Config, svc *settings.Service) {
	ctx := context.Background()
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}

	changed := false
	if set.GeminiAPIKey == "" && cfg.GeminiAPIKey != "" {
		set.GeminiAPIKey = cfg.GeminiAPIKey
		changed = true
	}
	if set.RerankAPIKey == "" && cfg.RerankAPIKey != "" {
		set.RerankAPIKey = cfg.RerankAPIKey
		changed = true
	}
	if set.RerankProvider == "" && cfg.RerankProvider != "" {
		set.RerankProvider = cfg.RerankProvider
		changed = true
	}
	if !changed {
		return
	}
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed settings from environment", "error", err)
	} else {
		slog.Info("seeded settings from environment")
	}
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
