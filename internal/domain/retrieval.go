package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// RetrievalStrategy selects which search channels run for a query.
type RetrievalStrategy string

const (
	StrategyHybrid RetrievalStrategy = "hybrid"
	StrategyDense  RetrievalStrategy = "dense"
	StrategySparse RetrievalStrategy = "sparse"
)

// ScoredChunk is a retrieval candidate carrying per-channel scores and the
// fused combined score. Dense-origin chunks carry a VectorID; sparse-origin
// chunks are identified by (DocumentID, ChunkIndex). Vector ids are minted as
// "<document_id>_<chunk_index>" at upsert time, so both keyings reconcile to
// the same entry when a chunk surfaces on both channels.
type ScoredChunk struct {
	VectorID     string
	DocumentID   uuid.UUID
	DocumentName string
	ChunkIndex   int
	PageNumber   *int
	SectionTitle string
	Content      string

	DenseScore    float64
	SparseScore   float64
	CombinedScore float64
}

// Key returns the fusion key for this chunk.
func (c ScoredChunk) Key() string {
	if c.VectorID != "" {
		return c.VectorID
	}
	return fmt.Sprintf("%s_%d", c.DocumentID, c.ChunkIndex)
}

// SourceRef is an immutable reference to a chunk that backed an answer.
// Index is the 1-based display order matching the [Source N] markers.
type SourceRef struct {
	Index          int       `json:"source_index"`
	DocumentID     uuid.UUID `json:"document_id"`
	DocumentName   string    `json:"document_name,omitempty"`
	ChunkIndex     int       `json:"chunk_index"`
	PageNumber     *int      `json:"page_number,omitempty"`
	SectionTitle   string    `json:"section_title,omitempty"`
	ContentPreview string    `json:"content_preview"`
	Score          float64   `json:"score"`
}

// SourcePreviewLength bounds the preview text stored on a SourceRef.
const SourcePreviewLength = 200

// Preview truncates s to SourcePreviewLength runes.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= SourcePreviewLength {
		return s
	}
	return string(runes[:SourcePreviewLength])
}
