package domain

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentRepository manages documents and their lifecycle state.
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)

	// FindByContentHash returns the tenant's document with the given content
	// hash, or nil when none exists. Used for upload deduplication.
	FindByContentHash(ctx context.Context, tenantID uuid.UUID, hash string) (*Document, error)

	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Document, error)

	// ListCompleted returns every document in completed state across all
	// tenants. Used to rebuild the in-memory sparse index at startup.
	ListCompleted(ctx context.Context) ([]Document, error)

	// AcquireNextEmbedPending claims one completed document whose chunks
	// still lack vectors, using FOR UPDATE SKIP LOCKED so concurrent workers
	// never double-process. Returns nil, nil when there is nothing to do.
	AcquireNextEmbedPending(ctx context.Context) (*Document, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, errorMessage string) error
	SetVectorsIndexed(ctx context.Context, id uuid.UUID, indexed bool) error
	SetExtractionResult(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ChunkRepository manages persisted document chunks.
type ChunkRepository interface {
	BulkInsert(ctx context.Context, chunks []DocumentChunk) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]DocumentChunk, error)

	// GetContent fetches the full chunk text by its natural key. Vector index
	// metadata only carries a bounded preview; the pipeline resolves full
	// content through this.
	GetContent(ctx context.Context, documentID uuid.UUID, chunkIndex int) (string, error)

	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// SessionRepository manages chat sessions and their messages.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *ChatSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*ChatSession, error)
	ListSessions(ctx context.Context, tenantID uuid.UUID) ([]ChatSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error

	AppendMessage(ctx context.Context, msg *ChatMessage) error
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]ChatMessage, error)
}

// TransactionManager runs a function within a database transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
