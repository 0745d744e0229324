package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"docqa/internal/domain"
)

type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool) domain.DocumentRepository {
	return &documentRepository{pool: pool}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func (r *documentRepository) getExecutor(ctx context.Context) rowQuerier {
	tx := ExtractTx(ctx)
	if tx != nil {
		return tx
	}
	return r.pool
}

const documentColumns = `id, tenant_id, filename, original_filename, file_type, file_size,
	content_hash, status, error_message, page_count, chunk_count, vectors_indexed,
	created_at, updated_at`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var doc domain.Document
	err := row.Scan(
		&doc.ID, &doc.TenantID, &doc.Filename, &doc.OriginalFilename,
		&doc.FileType, &doc.FileSize, &doc.ContentHash, &doc.Status,
		&doc.ErrorMessage, &doc.PageCount, &doc.ChunkCount, &doc.VectorsIndexed,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) Create(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (id, tenant_id, filename, original_filename, file_type, file_size,
			content_hash, status, error_message, page_count, chunk_count, vectors_indexed,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.getExecutor(ctx).Exec(ctx, query,
		doc.ID, doc.TenantID, doc.Filename, doc.OriginalFilename,
		doc.FileType, doc.FileSize, doc.ContentHash, doc.Status,
		doc.ErrorMessage, doc.PageCount, doc.ChunkCount, doc.VectorsIndexed,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	doc, err := scanDocument(r.getExecutor(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) FindByContentHash(ctx context.Context, tenantID uuid.UUID, hash string) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE tenant_id = $1 AND content_hash = $2`, documentColumns)
	doc, err := scanDocument(r.getExecutor(ctx).QueryRow(ctx, query, tenantID, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC`, documentColumns)
	return r.queryDocuments(ctx, query, tenantID)
}

func (r *documentRepository) ListCompleted(ctx context.Context) ([]domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE status = 'completed' ORDER BY created_at ASC`, documentColumns)
	return r.queryDocuments(ctx, query)
}

func (r *documentRepository) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]domain.Document, error) {
	rows, err := r.getExecutor(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return docs, nil
}

// AcquireNextEmbedPending claims one completed document whose vectors are not
// yet indexed. FOR UPDATE SKIP LOCKED keeps concurrent workers from claiming
// the same row; the caller must run this inside a transaction so the lock
// holds until the claim is recorded.
func (r *documentRepository) AcquireNextEmbedPending(ctx context.Context) (*domain.Document, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE status = 'completed' AND vectors_indexed = FALSE
		ORDER BY updated_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, documentColumns)
	doc, err := scanDocument(r.getExecutor(ctx).QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire embed-pending document: %w", err)
	}
	return doc, nil
}

func (r *documentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMessage string) error {
	query := `
		UPDATE documents
		SET status = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3
	`
	tag, err := r.getExecutor(ctx).Exec(ctx, query, status, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *documentRepository) SetVectorsIndexed(ctx context.Context, id uuid.UUID, indexed bool) error {
	query := `
		UPDATE documents
		SET vectors_indexed = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.getExecutor(ctx).Exec(ctx, query, indexed, id)
	if err != nil {
		return fmt.Errorf("failed to update vectors_indexed: %w", err)
	}
	return nil
}

func (r *documentRepository) SetExtractionResult(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	query := `
		UPDATE documents
		SET page_count = $1, chunk_count = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := r.getExecutor(ctx).Exec(ctx, query, pageCount, chunkCount, id)
	if err != nil {
		return fmt.Errorf("failed to update extraction result: %w", err)
	}
	return nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.getExecutor(ctx).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
