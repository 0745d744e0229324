package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docqa/internal/domain"
)

type pgvectorIndex struct {
	pool *pgxpool.Pool
}

// NewPgvectorIndex creates a VectorIndex backed by the chunk_vectors table.
// A nil pool yields a not-configured index; queries against it return
// domain.ErrVectorIndexNotConfigured so callers can degrade to sparse-only.
func NewPgvectorIndex(pool *pgxpool.Pool) domain.VectorIndex {
	return &pgvectorIndex{pool: pool}
}

func (s *pgvectorIndex) Upsert(ctx context.Context, tenantID uuid.UUID, records []domain.VectorRecord) error {
	if s.pool == nil {
		return domain.ErrVectorIndexNotConfigured
	}
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO chunk_vectors (vector_id, tenant_id, document_id, chunk_index, page_number, section_title, content_preview, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vector_id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    page_number = EXCLUDED.page_number,
		    section_title = EXCLUDED.section_title,
		    content_preview = EXCLUDED.content_preview
	`
	for _, rec := range records {
		batch.Queue(query,
			rec.ID,
			tenantID,
			rec.Metadata.DocumentID,
			rec.Metadata.ChunkIndex,
			rec.Metadata.PageNumber,
			rec.Metadata.SectionTitle,
			rec.Metadata.ContentPreview,
			pgvector.NewVector(rec.Embedding),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert vector: %w", err)
		}
	}
	return nil
}

func (s *pgvectorIndex) Query(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, documentIDs []uuid.UUID) ([]domain.VectorMatch, error) {
	if s.pool == nil {
		return nil, domain.ErrVectorIndexNotConfigured
	}

	query := `
		SELECT vector_id, document_id, chunk_index, page_number, section_title, content_preview,
		       1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		WHERE tenant_id = $2
	`
	args := []interface{}{pgvector.NewVector(vector), tenantID}
	if len(documentIDs) > 0 {
		query += " AND document_id = ANY($3)"
		args = append(args, documentIDs)
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []domain.VectorMatch
	for rows.Next() {
		var m domain.VectorMatch
		if err := rows.Scan(
			&m.ID,
			&m.Metadata.DocumentID,
			&m.Metadata.ChunkIndex,
			&m.Metadata.PageNumber,
			&m.Metadata.SectionTitle,
			&m.Metadata.ContentPreview,
			&m.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return matches, nil
}

func (s *pgvectorIndex) DeleteDocument(ctx context.Context, tenantID, documentID uuid.UUID) error {
	if s.pool == nil {
		return domain.ErrVectorIndexNotConfigured
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM chunk_vectors WHERE tenant_id = $1 AND document_id = $2`,
		tenantID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}
