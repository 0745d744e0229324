package di

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"docqa/internal/adapter/extract"
	"docqa/internal/adapter/httpapi"
	"docqa/internal/adapter/ollama"
	"docqa/internal/adapter/repository"
	"docqa/internal/adapter/vectorstore"
	"docqa/internal/domain"
	"docqa/internal/infra/config"
	"docqa/internal/infra/httpclient"
	"docqa/internal/pipeline"
	"docqa/internal/search"
	"docqa/internal/usecase"
	"docqa/internal/worker"
)

const (
	generatorTimeout = 180 * time.Second
	embedderTimeout  = 60 * time.Second
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	DocRepo     domain.DocumentRepository
	ChunkRepo   domain.ChunkRepository
	SessionRepo domain.SessionRepository

	// Indexes
	SparseIndex *search.SparseIndex
	VectorIndex domain.VectorIndex

	// Usecases
	IngestUsecase  usecase.IngestDocumentUsecase
	ChatUsecase    usecase.ChatUsecase
	SearchUsecase  usecase.SearchUsecase
	RecoverUsecase usecase.RecoverIndexUsecase

	// Worker
	Worker *worker.EmbedBackfillWorker

	// HTTP
	Handler *httpapi.Handler
}

// NewApplicationComponents wires all dependencies from config and database
// pools. vectorPool may be nil; the service then runs sparse-only.
func NewApplicationComponents(cfg *config.Config, pool, vectorPool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	// Repositories
	docRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	// Shared HTTP clients with connection pooling
	generatorHTTP := httpclient.NewPooledClient(generatorTimeout)
	embedderHTTP := httpclient.NewPooledClient(embedderTimeout)

	// Model backends
	generator := ollama.NewGenerator(cfg.OllamaURL, cfg.GenerationModel, generatorHTTP)

	var encoder domain.VectorEncoder
	if vectorPool != nil {
		encoder = ollama.NewEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, embedderHTTP)
	}
	vectorIndex := vectorstore.NewPgvectorIndex(vectorPool)

	// Indexes and searchers
	sparseIndex := search.NewSparseIndex(log)
	denseSearcher := search.NewDenseSearcher(encoder, vectorIndex, log)
	hybridSearcher := search.NewHybridSearcher(sparseIndex, denseSearcher, log)

	// Pipeline stages
	retrieveStage := pipeline.NewRetrieveStage(sparseIndex, denseSearcher, generator, docRepo, chunkRepo, log)
	synthesizeStage := pipeline.NewSynthesizeStage(generator, log)
	citeStage := pipeline.NewCiteStage(generator, log)
	reflectStage := pipeline.NewReflectStage(generator, log)
	orchestrator := pipeline.NewOrchestrator(retrieveStage, synthesizeStage, citeStage, reflectStage, generator, cfg.MaxRevisions, log)

	// Domain services
	hasher := domain.NewContentHashPolicy()
	chunker := domain.NewChunker()
	extractor := extract.NewTextExtractor(log)

	// Usecases
	ingestUsecase := usecase.NewIngestDocumentUsecase(
		docRepo, chunkRepo, txManager, hasher, extractor, chunker,
		encoder, vectorIndex, sparseIndex, log,
	)
	chatUsecase := usecase.NewChatUsecase(orchestrator, sessionRepo, log)
	searchUsecase := usecase.NewSearchUsecase(hybridSearcher, docRepo, log)
	recoverUsecase := usecase.NewRecoverIndexUsecase(docRepo, chunkRepo, sparseIndex, log)

	// Worker
	backfillWorker := worker.NewEmbedBackfillWorker(docRepo, chunkRepo, txManager, encoder, vectorIndex, log)

	// HTTP surface
	handler := httpapi.NewHandler(ingestUsecase, chatUsecase, searchUsecase, log)

	return &ApplicationComponents{
		DocRepo:        docRepo,
		ChunkRepo:      chunkRepo,
		SessionRepo:    sessionRepo,
		SparseIndex:    sparseIndex,
		VectorIndex:    vectorIndex,
		IngestUsecase:  ingestUsecase,
		ChatUsecase:    chatUsecase,
		SearchUsecase:  searchUsecase,
		RecoverUsecase: recoverUsecase,
		Worker:         backfillWorker,
		Handler:        handler,
	}
}
