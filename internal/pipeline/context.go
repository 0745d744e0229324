package pipeline

import (
	"fmt"

	"docqa/internal/domain"

	"github.com/google/uuid"
)

// DefaultMaxRevisions bounds the synthesize -> reflect feedback loop.
const DefaultMaxRevisions = 2

// Context is the shared mutable state threaded through the pipeline stages.
// One Context exists per incoming question; it is never shared across
// requests and is discarded once the orchestrator extracts the final answer.
type Context struct {
	// Input
	Query         string
	TenantID      uuid.UUID
	DocumentScope []uuid.UUID
	ChatHistory   []domain.ChatTurn

	// Retrieval
	SearchQueries   []string
	Strategy        domain.RetrievalStrategy
	RetrievedChunks []domain.ScoredChunk

	// Synthesis
	DraftAnswer string
	SourcesUsed []domain.SourceRef

	// Citation
	CitedAnswer      string
	CitationVerified bool

	// Reflection
	ReflectionNotes string
	NeedsRevision   bool
	RevisionCount   int
	MaxRevisions    int

	// Final
	FinalAnswer  string
	FinalSources []domain.SourceRef
	Trace        []string
}

// NewContext creates a pipeline context for one question.
func NewContext(query string, tenantID uuid.UUID, documentScope []uuid.UUID, history []domain.ChatTurn) *Context {
	return &Context{
		Query:         query,
		TenantID:      tenantID,
		DocumentScope: documentScope,
		ChatHistory:   history,
		Strategy:      domain.StrategyHybrid,
		MaxRevisions:  DefaultMaxRevisions,
	}
}

// Log appends a one-line record to the audit trace. The trace is for
// observability only; no stage reads it back.
func (c *Context) Log(stage, message string) {
	c.Trace = append(c.Trace, fmt.Sprintf("[%s] %s", stage, message))
}
