package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docqa/internal/domain"

	"github.com/google/uuid"
)

// HybridSearcher runs one dense and one sparse pass for a single query and
// merges the two rankings with reciprocal-rank fusion. It backs the
// single-pass retrieval surfaces; the multi-query pipeline accumulates
// across expanded queries and blends by score instead.
type HybridSearcher struct {
	sparse *SparseIndex
	dense  *DenseSearcher
	logger *slog.Logger
}

// NewHybridSearcher wires the two search channels.
func NewHybridSearcher(sparse *SparseIndex, dense *DenseSearcher, logger *slog.Logger) *HybridSearcher {
	return &HybridSearcher{sparse: sparse, dense: dense, logger: logger}
}

// Search queries both channels at topK and fuses the rankings with RRF. An
// unconfigured dense backend degrades to sparse-only; any other dense
// failure aborts the search.
func (h *HybridSearcher) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, documentIDs []uuid.UUID) ([]domain.ScoredChunk, error) {
	var dense []domain.ScoredChunk
	denseResults, err := h.dense.Search(ctx, tenantID, query, topK, documentIDs)
	switch {
	case errors.Is(err, domain.ErrVectorIndexNotConfigured):
		h.logger.Warn("dense_search_unavailable",
			slog.String("tenant_id", tenantID.String()))
	case err != nil:
		return nil, fmt.Errorf("dense search failed: %w", err)
	default:
		dense = denseToScored(denseResults)
	}

	sparse := sparseToScored(h.sparse.Search(tenantID, query, topK, documentIDs))
	return ReciprocalRankFusion(dense, sparse, topK, RRFK), nil
}

func denseToScored(results []DenseResult) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, domain.ScoredChunk{
			VectorID:     r.VectorID,
			DocumentID:   r.DocumentID,
			ChunkIndex:   r.ChunkIndex,
			PageNumber:   r.PageNumber,
			SectionTitle: r.SectionTitle,
			Content:      r.ContentPreview,
			DenseScore:   r.Score,
		})
	}
	return out
}

func sparseToScored(results []SparseResult) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(results))
	for _, r := range results {
		out = append(out, domain.ScoredChunk{
			DocumentID:   r.DocumentID,
			ChunkIndex:   r.ChunkIndex,
			PageNumber:   r.PageNumber,
			SectionTitle: r.SectionTitle,
			Content:      r.Content,
			SparseScore:  r.Score,
		})
	}
	return out
}
