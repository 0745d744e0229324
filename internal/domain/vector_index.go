package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrVectorIndexNotConfigured signals that no vector backend is reachable or
// configured. Callers degrade to sparse-only retrieval instead of failing the
// whole request.
var ErrVectorIndexNotConfigured = errors.New("vector index not configured")

// VectorMetadata is the payload stored alongside each vector.
type VectorMetadata struct {
	DocumentID     uuid.UUID
	ChunkIndex     int
	PageNumber     *int
	SectionTitle   string
	ContentPreview string
}

// VectorRecord is an upsert unit for the vector index.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  VectorMetadata
}

// VectorMatch is one similarity-search hit.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata VectorMetadata
}

// VectorIndex is a namespace-scoped similarity index. The tenant id is the
// namespace; one tenant's vectors are never visible to another.
type VectorIndex interface {
	Upsert(ctx context.Context, tenantID uuid.UUID, records []VectorRecord) error
	Query(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, documentIDs []uuid.UUID) ([]VectorMatch, error)
	DeleteDocument(ctx context.Context, tenantID uuid.UUID, documentID uuid.UUID) error
}
