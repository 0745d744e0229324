package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/search"
)

const (
	defaultSearchTopK = 10
	maxSearchTopK     = 50
)

// SearchResult is one standalone search hit.
type SearchResult struct {
	DocumentID   uuid.UUID
	DocumentName string
	ChunkID      string
	ChunkIndex   int
	PageNumber   *int
	Content      string
	Score        float64
}

// SearchUsecase serves semantic search over a tenant's documents without
// generating an answer.
type SearchUsecase interface {
	// Search runs one hybrid retrieval pass and returns the fused ranking.
	// Results scoring below threshold are dropped when threshold > 0.
	Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, threshold float64, documentIDs []uuid.UUID) ([]SearchResult, error)
}

type searchUsecase struct {
	hybrid  *search.HybridSearcher
	docRepo domain.DocumentRepository
	logger  *slog.Logger
}

// NewSearchUsecase wires the search surface.
func NewSearchUsecase(hybrid *search.HybridSearcher, docRepo domain.DocumentRepository, logger *slog.Logger) SearchUsecase {
	return &searchUsecase{hybrid: hybrid, docRepo: docRepo, logger: logger}
}

func (u *searchUsecase) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, threshold float64, documentIDs []uuid.UUID) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = defaultSearchTopK
	}
	if topK > maxSearchTopK {
		topK = maxSearchTopK
	}

	chunks, err := u.hybrid.Search(ctx, tenantID, query, topK, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}

	names := make(map[uuid.UUID]string)
	results := make([]SearchResult, 0, len(chunks))
	for _, chunk := range chunks {
		if threshold > 0 && chunk.CombinedScore < threshold {
			continue
		}

		name, ok := names[chunk.DocumentID]
		if !ok {
			doc, err := u.docRepo.GetByID(ctx, chunk.DocumentID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("failed to resolve document: %w", err)
			}
			if doc != nil {
				name = doc.OriginalFilename
			}
			names[chunk.DocumentID] = name
		}

		results = append(results, SearchResult{
			DocumentID:   chunk.DocumentID,
			DocumentName: name,
			ChunkID:      chunk.Key(),
			ChunkIndex:   chunk.ChunkIndex,
			PageNumber:   chunk.PageNumber,
			Content:      domain.Preview(chunk.Content),
			Score:        chunk.CombinedScore,
		})
	}

	u.logger.Info("search_completed",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("hits", len(results)))
	return results, nil
}
