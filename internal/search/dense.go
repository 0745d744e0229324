package search

import (
	"fmt"
	"log/slog"
	"time"

	"context"

	"docqa/internal/domain"

	"github.com/google/uuid"
)

// DenseResult is one similarity-search hit. Content carries only the bounded
// preview stored in the vector index; full text is resolved from storage.
type DenseResult struct {
	VectorID       string
	DocumentID     uuid.UUID
	ChunkIndex     int
	PageNumber     *int
	SectionTitle   string
	ContentPreview string
	Score          float64
}

// DenseSearcher wraps the embedding encoder and the vector index behind one
// query interface. When either collaborator is absent it reports
// domain.ErrVectorIndexNotConfigured so callers can degrade to sparse-only.
type DenseSearcher struct {
	encoder domain.VectorEncoder
	index   domain.VectorIndex
	logger  *slog.Logger
}

// NewDenseSearcher creates the adapter. encoder or index may be nil when the
// dense backend is not configured.
func NewDenseSearcher(encoder domain.VectorEncoder, index domain.VectorIndex, logger *slog.Logger) *DenseSearcher {
	return &DenseSearcher{encoder: encoder, index: index, logger: logger}
}

// Available reports whether both backing collaborators are wired.
func (s *DenseSearcher) Available() bool {
	return s.encoder != nil && s.index != nil
}

// Search embeds the query and runs a namespace-scoped similarity lookup.
func (s *DenseSearcher) Search(ctx context.Context, tenantID uuid.UUID, query string, topK int, documentIDs []uuid.UUID) ([]DenseResult, error) {
	if !s.Available() {
		return nil, domain.ErrVectorIndexNotConfigured
	}

	start := time.Now()
	embeddings, err := s.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned for query")
	}

	matches, err := s.index.Query(ctx, tenantID, embeddings[0], topK, documentIDs)
	if err != nil {
		return nil, err
	}

	results := make([]DenseResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, DenseResult{
			VectorID:       m.ID,
			DocumentID:     m.Metadata.DocumentID,
			ChunkIndex:     m.Metadata.ChunkIndex,
			PageNumber:     m.Metadata.PageNumber,
			SectionTitle:   m.Metadata.SectionTitle,
			ContentPreview: m.Metadata.ContentPreview,
			Score:          m.Score,
		})
	}

	s.logger.Debug("dense_search_completed",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("hits", len(results)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return results, nil
}
