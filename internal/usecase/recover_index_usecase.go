package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/search"
)

// RecoverIndexUsecase rebuilds the volatile in-memory sparse index from
// persisted chunks. Runs once at startup, before the server accepts traffic.
type RecoverIndexUsecase interface {
	Recover(ctx context.Context) error
}

type recoverIndexUsecase struct {
	docRepo   domain.DocumentRepository
	chunkRepo domain.ChunkRepository
	sparse    *search.SparseIndex
	logger    *slog.Logger
}

// NewRecoverIndexUsecase wires the startup recovery pass.
func NewRecoverIndexUsecase(
	docRepo domain.DocumentRepository,
	chunkRepo domain.ChunkRepository,
	sparse *search.SparseIndex,
	logger *slog.Logger,
) RecoverIndexUsecase {
	return &recoverIndexUsecase{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		sparse:    sparse,
		logger:    logger,
	}
}

func (u *recoverIndexUsecase) Recover(ctx context.Context) error {
	docs, err := u.docRepo.ListCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to list completed documents: %w", err)
	}

	byTenant := make(map[uuid.UUID][]search.SparseChunk)
	for _, doc := range docs {
		chunks, err := u.chunkRepo.ListByDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("failed to load chunks for document %s: %w", doc.ID, err)
		}
		byTenant[doc.TenantID] = append(byTenant[doc.TenantID], sparseChunksFor(chunks)...)
	}

	for tenantID, chunks := range byTenant {
		u.sparse.Build(tenantID, chunks)
	}

	u.logger.Info("sparse_index_recovered",
		slog.Int("documents", len(docs)),
		slog.Int("tenants", len(byTenant)))
	return nil
}
