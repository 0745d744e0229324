package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus tracks a document through the ingestion lifecycle.
type DocumentStatus string

const (
	DocumentStatusUploaded   DocumentStatus = "uploaded"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// DocumentType identifies the source file format.
type DocumentType string

const (
	DocumentTypePDF      DocumentType = "pdf"
	DocumentTypeText     DocumentType = "txt"
	DocumentTypeMarkdown DocumentType = "md"
)

// ParseDocumentType maps a filename extension to its DocumentType.
func ParseDocumentType(filename string) (DocumentType, error) {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return "", ErrUnsupportedFormat
	}
	switch strings.ToLower(filename[idx+1:]) {
	case "pdf":
		return DocumentTypePDF, nil
	case "txt":
		return DocumentTypeText, nil
	case "md", "markdown":
		return DocumentTypeMarkdown, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Document represents an uploaded source file owned by a tenant.
type Document struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	Filename         string
	OriginalFilename string
	FileType         DocumentType
	FileSize         int64
	ContentHash      string
	Status           DocumentStatus
	ErrorMessage     string
	PageCount        int
	ChunkCount       int
	// VectorsIndexed is false while the document's chunks still need
	// embedding (e.g. the vector backend was down during ingestion).
	VectorsIndexed bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentChunk is the atomic unit of retrieval: a bounded slice of a
// document's text, ordered by ChunkIndex.
type DocumentChunk struct {
	ID           uuid.UUID
	DocumentID   uuid.UUID
	ChunkIndex   int
	Content      string
	TokenCount   int
	PageNumber   *int
	SectionTitle string
	VectorID     string
	CreatedAt    time.Time
}
