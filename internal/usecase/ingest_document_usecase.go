package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/search"
)

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 50 << 20

// ErrFileTooLarge is returned for uploads over MaxUploadBytes.
var ErrFileTooLarge = errors.New("file exceeds maximum upload size")

// IngestDocumentUsecase runs the upload-to-searchable pipeline.
type IngestDocumentUsecase interface {
	// Ingest extracts, chunks, persists and indexes an uploaded file. It is
	// idempotent per tenant: re-uploading identical bytes returns the
	// existing document.
	Ingest(ctx context.Context, tenantID uuid.UUID, filename string, content []byte) (*domain.Document, error)

	// Remove deletes a document and evicts it from both indexes.
	Remove(ctx context.Context, tenantID, documentID uuid.UUID) error

	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]domain.Document, error)
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*domain.Document, error)
}

type ingestDocumentUsecase struct {
	docRepo   domain.DocumentRepository
	chunkRepo domain.ChunkRepository
	txManager domain.TransactionManager
	hasher    domain.ContentHashPolicy
	extractor domain.TextExtractor
	chunker   domain.Chunker
	encoder   domain.VectorEncoder
	vectors   domain.VectorIndex
	sparse    *search.SparseIndex
	logger    *slog.Logger
}

// NewIngestDocumentUsecase wires the ingestion pipeline.
func NewIngestDocumentUsecase(
	docRepo domain.DocumentRepository,
	chunkRepo domain.ChunkRepository,
	txManager domain.TransactionManager,
	hasher domain.ContentHashPolicy,
	extractor domain.TextExtractor,
	chunker domain.Chunker,
	encoder domain.VectorEncoder,
	vectors domain.VectorIndex,
	sparse *search.SparseIndex,
	logger *slog.Logger,
) IngestDocumentUsecase {
	return &ingestDocumentUsecase{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		txManager: txManager,
		hasher:    hasher,
		extractor: extractor,
		chunker:   chunker,
		encoder:   encoder,
		vectors:   vectors,
		sparse:    sparse,
		logger:    logger,
	}
}

func (u *ingestDocumentUsecase) Ingest(ctx context.Context, tenantID uuid.UUID, filename string, content []byte) (*domain.Document, error) {
	fileType, err := domain.ParseDocumentType(filename)
	if err != nil {
		return nil, err
	}
	if len(content) > MaxUploadBytes {
		return nil, ErrFileTooLarge
	}

	// Idempotency: identical bytes resolve to the existing document.
	contentHash := u.hasher.Compute(content)
	existing, err := u.docRepo.FindByContentHash(ctx, tenantID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check content hash: %w", err)
	}
	if existing != nil {
		u.logger.Info("document_deduplicated",
			slog.String("tenant_id", tenantID.String()),
			slog.String("document_id", existing.ID.String()))
		return existing, nil
	}

	now := time.Now()
	doc := &domain.Document{
		ID:               uuid.New(),
		TenantID:         tenantID,
		Filename:         fmt.Sprintf("%s.%s", uuid.New().String(), fileType),
		OriginalFilename: filename,
		FileType:         fileType,
		FileSize:         int64(len(content)),
		ContentHash:      contentHash,
		Status:           domain.DocumentStatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := u.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if err := u.process(ctx, doc, content); err != nil {
		if updateErr := u.docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusFailed, err.Error()); updateErr != nil {
			u.logger.Error("failed_to_record_ingestion_failure",
				slog.String("document_id", doc.ID.String()),
				slog.String("error", updateErr.Error()))
		}
		doc.Status = domain.DocumentStatusFailed
		doc.ErrorMessage = err.Error()
		return doc, err
	}

	fresh, err := u.docRepo.GetByID(ctx, doc.ID)
	if err != nil {
		return doc, nil
	}
	return fresh, nil
}

// process runs extraction through indexing. Vector indexing is best-effort:
// when the embedding backend or vector index is unavailable the document
// still completes as sparse-searchable, with vectors_indexed left false for
// the backfill worker.
func (u *ingestDocumentUsecase) process(ctx context.Context, doc *domain.Document, content []byte) error {
	if err := u.docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark processing: %w", err)
	}

	extraction, err := u.extractor.Extract(content, doc.OriginalFilename)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	chunks, err := u.chunker.ChunkPages(extraction.Pages)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	now := time.Now()
	docChunks := make([]domain.DocumentChunk, len(chunks))
	for i, c := range chunks {
		docChunks[i] = domain.DocumentChunk{
			ID:           uuid.New(),
			DocumentID:   doc.ID,
			ChunkIndex:   c.ChunkIndex,
			Content:      c.Content,
			TokenCount:   c.TokenCount,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
			VectorID:     fmt.Sprintf("%s_%d", doc.ID, c.ChunkIndex),
			CreatedAt:    now,
		}
	}

	err = u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		if err := u.chunkRepo.BulkInsert(ctx, docChunks); err != nil {
			return err
		}
		if err := u.docRepo.SetExtractionResult(ctx, doc.ID, extraction.PageCount, len(docChunks)); err != nil {
			return err
		}
		return u.docRepo.UpdateStatus(ctx, doc.ID, domain.DocumentStatusCompleted, "")
	})
	if err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}

	indexed := u.indexVectors(ctx, doc, docChunks)
	if err := u.docRepo.SetVectorsIndexed(ctx, doc.ID, indexed); err != nil {
		u.logger.Error("failed_to_record_vector_state",
			slog.String("document_id", doc.ID.String()),
			slog.String("error", err.Error()))
	}

	u.sparse.Add(doc.TenantID, sparseChunksFor(docChunks))

	u.logger.Info("document_ingested",
		slog.String("tenant_id", doc.TenantID.String()),
		slog.String("document_id", doc.ID.String()),
		slog.Int("pages", extraction.PageCount),
		slog.Int("chunks", len(docChunks)),
		slog.Bool("vectors_indexed", indexed))
	return nil
}

func (u *ingestDocumentUsecase) indexVectors(ctx context.Context, doc *domain.Document, chunks []domain.DocumentChunk) bool {
	records, err := EmbedChunks(ctx, u.encoder, chunks)
	if err != nil {
		u.logger.Warn("vector_indexing_skipped",
			slog.String("document_id", doc.ID.String()),
			slog.String("reason", err.Error()))
		return false
	}

	if err := u.vectors.Upsert(ctx, doc.TenantID, records); err != nil {
		if errors.Is(err, domain.ErrVectorIndexNotConfigured) {
			u.logger.Warn("vector_index_not_configured",
				slog.String("document_id", doc.ID.String()))
		} else {
			u.logger.Warn("vector_upsert_failed",
				slog.String("document_id", doc.ID.String()),
				slog.String("error", err.Error()))
		}
		return false
	}
	return true
}

// EmbedChunks encodes chunk contents and pairs them with vector metadata.
// Shared with the backfill worker.
func EmbedChunks(ctx context.Context, encoder domain.VectorEncoder, chunks []domain.DocumentChunk) ([]domain.VectorRecord, error) {
	if encoder == nil {
		return nil, domain.ErrVectorIndexNotConfigured
	}

	contents := make([]string, len(chunks))
	for i, c := range chunks {
		contents[i] = c.Content
	}
	embeddings, err := encoder.Encode(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embeddings count mismatch")
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.VectorRecord{
			ID:        c.VectorID,
			Embedding: embeddings[i],
			Metadata: domain.VectorMetadata{
				DocumentID:     c.DocumentID,
				ChunkIndex:     c.ChunkIndex,
				PageNumber:     c.PageNumber,
				SectionTitle:   c.SectionTitle,
				ContentPreview: domain.Preview(c.Content),
			},
		}
	}
	return records, nil
}

func sparseChunksFor(chunks []domain.DocumentChunk) []search.SparseChunk {
	out := make([]search.SparseChunk, len(chunks))
	for i, c := range chunks {
		out[i] = search.SparseChunk{
			DocumentID:   c.DocumentID,
			ChunkIndex:   c.ChunkIndex,
			Content:      c.Content,
			PageNumber:   c.PageNumber,
			SectionTitle: c.SectionTitle,
		}
	}
	return out
}

func (u *ingestDocumentUsecase) Remove(ctx context.Context, tenantID, documentID uuid.UUID) error {
	doc, err := u.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.TenantID != tenantID {
		return domain.ErrNotFound
	}

	err = u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		if err := u.chunkRepo.DeleteByDocument(ctx, documentID); err != nil {
			return err
		}
		return u.docRepo.Delete(ctx, documentID)
	})
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if err := u.vectors.DeleteDocument(ctx, tenantID, documentID); err != nil &&
		!errors.Is(err, domain.ErrVectorIndexNotConfigured) {
		u.logger.Warn("vector_delete_failed",
			slog.String("document_id", documentID.String()),
			slog.String("error", err.Error()))
	}

	u.sparse.RemoveDocument(tenantID, documentID)

	u.logger.Info("document_removed",
		slog.String("tenant_id", tenantID.String()),
		slog.String("document_id", documentID.String()))
	return nil
}

func (u *ingestDocumentUsecase) ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]domain.Document, error) {
	return u.docRepo.ListByTenant(ctx, tenantID)
}

func (u *ingestDocumentUsecase) GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (*domain.Document, error) {
	doc, err := u.docRepo.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}
